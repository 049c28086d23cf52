// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the commands.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/config"
	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/dispatcher"
	"github.com/JakeFAU/fetchcore/internal/fetcher"
	"github.com/JakeFAU/fetchcore/internal/hash/sha256"
	"github.com/JakeFAU/fetchcore/internal/policy/ratelimit"
	"github.com/JakeFAU/fetchcore/internal/queue/memory"
	"github.com/JakeFAU/fetchcore/internal/sink"
	"github.com/JakeFAU/fetchcore/internal/storage/local"
	"github.com/JakeFAU/fetchcore/internal/storage/postgres"
	"github.com/JakeFAU/fetchcore/internal/worker"
)

// App holds the shared queues, sinks and worker pool.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	jobs       *memory.Queue[crawler.Job]
	pages      *memory.Buffer[crawler.Page]
	sinks      sink.Multi
	dispatcher *dispatcher.Dispatcher
	closers    []func()
	output     io.Closer

	drainOnce sync.Once
	drained   chan struct{}
	closeOnce sync.Once
}

// NewApp builds every configured sink plus the queues and dispatcher.
// stdout receives JSON lines when output.path is "-".
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, stdout io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		jobs:    memory.NewJobQueue(cfg.Queue.Depth),
		pages:   memory.NewPageBuffer(),
		drained: make(chan struct{}),
	}

	if err := a.buildSinks(ctx, stdout); err != nil {
		a.Close()
		return nil, err
	}

	a.dispatcher = dispatcher.New(a.jobs, a.pages, a.NewFetcher, a.workerConfig(), logger)
	logger.Info("application services initialized",
		zap.Int("workers", cfg.Worker.Count),
		zap.Int("queue_depth", cfg.Queue.Depth),
		zap.Int("sinks", len(a.sinks)),
	)
	return a, nil
}

// workerConfig shares one per-host limiter across every worker when
// worker.host_rps is set.
func (a *App) workerConfig() worker.Config {
	wc := worker.Config{Delay: a.cfg.DelayProvider()}
	if a.cfg.Worker.HostRPS > 0 {
		wc.Limiter = ratelimit.New(ratelimit.Config{
			HostRPS:   a.cfg.Worker.HostRPS,
			HostBurst: a.cfg.Worker.HostBurst,
		})
	}
	return wc
}

func (a *App) buildSinks(ctx context.Context, stdout io.Writer) error {
	hasher := sha256.New()
	switch path := a.cfg.Output.Path; path {
	case "":
	case "-":
		a.sinks = append(a.sinks, sink.NewJSONLines(stdout, hasher, a.cfg.Output.IncludeBody))
	default:
		f, err := os.Create(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		a.output = f
		a.sinks = append(a.sinks, sink.NewJSONLines(f, hasher, a.cfg.Output.IncludeBody))
	}

	if dir := a.cfg.Storage.LocalDir; dir != "" {
		blobs, err := local.New(local.Config{BaseDir: dir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.logger.Info("storing page bodies on disk", zap.String("dir", dir))
		a.sinks = append(a.sinks, blobs)
	}

	if dsn := a.cfg.DB.DSN; dsn != "" {
		store, err := postgres.NewPageStore(ctx, postgres.Config{
			DSN:      dsn,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.logger.Info("storing page records in postgres", zap.String("table", a.cfg.DB.Table))
		a.sinks = append(a.sinks, store)
	}
	return nil
}

// NewFetcher builds the private Fetcher for worker i.
func (a *App) NewFetcher(i int) crawler.Fetcher {
	return fetcher.New(a.cfg.FetcherConfig(),
		fetcher.WithLogger(a.logger.With(zap.Int("worker_id", i))),
	)
}

// GetLogger returns the shared logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// Jobs is the input queue.
func (a *App) Jobs() *memory.Queue[crawler.Job] {
	return a.jobs
}

// Dispatcher is the worker pool.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Sink is the fan-out of every configured page consumer.
func (a *App) Sink() sink.Sink {
	return a.sinks
}

// StartDrain moves pages from the output buffer to the sinks in the
// background until the buffer is closed. Only the first call starts it.
func (a *App) StartDrain(ctx context.Context) {
	a.drainOnce.Do(func() {
		go func() {
			defer close(a.drained)
			n, err := sink.Drain(ctx, a.pages, a.sinks, a.logger)
			if err != nil {
				a.logger.Warn("page drain stopped early", zap.Error(err))
			}
			a.logger.Info("page drain finished", zap.Int("written", n))
		}()
	})
}

// Finish closes the page buffer and waits for the drain to write what is
// left. Workers must have stopped first.
func (a *App) Finish() {
	a.pages.Close()
	a.StartDrain(context.Background())
	<-a.drained
}

// Close releases sinks and flushes the logger.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.jobs.Close()
		for _, c := range a.closers {
			c()
		}
		if a.output != nil {
			if err := a.output.Close(); err != nil {
				a.logger.Warn("close output failed", zap.Error(err))
			}
		}
		_ = a.logger.Sync() //nolint:errcheck // best-effort flush
	})
}
