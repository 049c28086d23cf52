// Package cmd defines and implements the CLI commands for the fetchcore executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/app"
	"github.com/JakeFAU/fetchcore/internal/config"
	"github.com/JakeFAU/fetchcore/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appHolder carries the App built by the pre-run hook back to executeRoot,
// which closes it whether or not the command failed.
type appHolder struct {
	app *app.App
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, stdout io.Writer) (*app.App, error) {
	return app.NewApp(ctx, cfg, logger, stdout)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "fetchcore",
		Short: "Fetch pages through pooled, retrying HTTP workers.",
		Long: `fetchcore drains a queue of (url, referer, depth) jobs with a pool of
workers. Each worker owns its own connection pool and cookie jar, follows
same-host redirects and retries failed exchanges before recording an error.`,
		SilenceUsage: true,

		// Builds the application before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Fetcher.Verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			holder, ok := cmd.Context().Value(appKey).(*appHolder)
			if !ok {
				holder = &appHolder{}
				cmd.SetContext(context.WithValue(cmd.Context(), appKey, holder))
			}
			holder.app = appInstance
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	holder, ok := ctx.Value(appKey).(*appHolder)
	if !ok || holder.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.app, nil
}

// executeRoot runs the command tree and closes the App afterwards. Cobra
// skips post-run hooks when RunE fails, so closing happens here.
func executeRoot(ctx context.Context, root *cobra.Command) error {
	holder := &appHolder{}
	err := root.ExecuteContext(context.WithValue(ctx, appKey, holder))
	if holder.app != nil {
		holder.app.Close()
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := executeRoot(context.Background(), root); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
