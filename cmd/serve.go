package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/api"
)

const shutdownTimeout = 15 * time.Second

// newServeCmd runs the worker pool behind the job submission API until
// SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool behind the HTTP job API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.GetConfig()
			logger := appInstance.GetLogger()
			d := appInstance.Dispatcher()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Workers and the drain outlive ctx so queued jobs finish after a signal.
			workCtx := context.WithoutCancel(cmd.Context())
			appInstance.StartDrain(workCtx)
			for range cfg.Worker.Count {
				d.Spawn(workCtx)
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           api.NewServer(appInstance.Jobs(), cfg, logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(workCtx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown failed", zap.Error(err))
			}
			if err := d.Shutdown(shutdownCtx); err != nil {
				logger.Warn("worker shutdown failed", zap.Error(err))
			}
			d.Wait()
			appInstance.Finish()

			if serveErr != nil {
				return fmt.Errorf("http server: %w", serveErr)
			}
			logger.Info("serve command finished")
			return nil
		},
	}
}
