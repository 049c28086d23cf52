// Package worker implements the crawl loop: dequeue a job, fetch it, push the
// resulting page records and pause before the next job.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// Delay is consulted after every job. A nil provider or a result of
	// zero or less means no pause.
	Delay crawler.DelayProvider
	// Limiter, when set, is waited on before every fetch. It is usually
	// shared by all workers of a process.
	Limiter Limiter
}

// Limiter gates fetches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Worker drains the input queue through its own Fetcher.
type Worker struct {
	id      int
	in      crawler.JobSource
	out     crawler.PageSink
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. The fetcher must not be shared with another worker.
func New(
	id int,
	in crawler.JobSource,
	out crawler.PageSink,
	fetcher crawler.Fetcher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		in:      in,
		out:     out,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks until the worker dequeues the end sentinel. It also returns
// when the input queue is closed or ctx ends, so a process can still be
// torn down if nobody sends the sentinel.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	w.logger.Debug("worker started")

	for {
		job, err := w.in.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Debug("worker stopped", zap.Error(err))
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if job.IsEnd() {
			w.logger.Debug("end sentinel received")
			return
		}

		if w.cfg.Limiter != nil {
			if err := w.cfg.Limiter.Wait(ctx, job.URL); err != nil {
				w.logger.Debug("worker stopped while rate limited", zap.Error(err))
				return
			}
		}
		w.process(ctx, job)

		if !w.pause(ctx) {
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job crawler.Job) {
	w.logger.Debug("fetching", zap.String("url", job.URL), zap.Int("depth", job.Depth))
	pages := w.fetcher.FetchPages(ctx, job.URL, job.Referer, job.Depth)
	for _, page := range pages {
		w.out.Push(page)
	}
	if n := len(pages); n > 0 && pages[n-1].Err != nil {
		w.logger.Debug("job failed", zap.String("url", job.URL), zap.Error(pages[n-1].Err))
	}
}

// pause sleeps for the configured delay. It reports false if ctx ended
// while waiting.
func (w *Worker) pause(ctx context.Context) bool {
	if w.cfg.Delay == nil {
		return true
	}
	d := w.cfg.Delay.Delay()
	if d <= 0 {
		return true
	}
	metrics.ObserveWorkerDelay(d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
