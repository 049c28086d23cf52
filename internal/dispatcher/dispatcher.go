// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/worker"
)

// FetcherFactory builds the private Fetcher for worker i.
type FetcherFactory func(i int) crawler.Fetcher

type closer interface {
	Close()
}

// Dispatcher runs a growable set of workers over shared input and output
// queues. Each worker gets its own Fetcher from the factory.
type Dispatcher struct {
	in         crawler.JobQueue
	out        crawler.PageSink
	newFetcher FetcherFactory
	workerCfg  worker.Config
	logger     *zap.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	spawned int
	live    int
}

// New creates a Dispatcher.
func New(
	in crawler.JobQueue,
	out crawler.PageSink,
	newFetcher FetcherFactory,
	workerCfg worker.Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		in:         in,
		out:        out,
		newFetcher: newFetcher,
		workerCfg:  workerCfg,
		logger:     logger.Named("dispatcher"),
	}
}

// Spawn starts one more worker.
func (d *Dispatcher) Spawn(ctx context.Context) {
	d.mu.Lock()
	id := d.spawned
	d.spawned++
	d.live++
	d.mu.Unlock()

	fetcher := d.newFetcher(id)
	w := worker.New(id, d.in, d.out, fetcher, d.workerCfg, d.logger)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.retire(fetcher)
		w.Run(ctx)
	}()
}

func (d *Dispatcher) retire(fetcher crawler.Fetcher) {
	if c, ok := fetcher.(closer); ok {
		c.Close()
	}
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
}

// Run starts n workers and blocks until every worker has stopped.
func (d *Dispatcher) Run(ctx context.Context, n int) {
	for range n {
		d.Spawn(ctx)
	}
	d.logger.Info("workers started", zap.Int("count", n))
	d.Wait()
}

// Wait blocks until every spawned worker has stopped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Live returns the number of running workers.
func (d *Dispatcher) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Enqueue proxies to the input queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job crawler.Job) error {
	if err := d.in.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Shutdown queues one end sentinel per live worker, behind any jobs
// already waiting.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	n := d.Live()
	d.logger.Info("sending end sentinels", zap.Int("count", n))
	for range n {
		if err := d.Enqueue(ctx, crawler.EndJob); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
