package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/fetcher"
)

func newFetchCmd() *cobra.Command {
	var (
		referer string
		depth   int
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one URL and write its page chain",
		Long: `Fetches a single URL with one fetcher, following same-host redirects,
and writes every record of the chain to the configured sinks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.GetLogger()

			f := fetcher.New(appInstance.GetConfig().FetcherConfig(), fetcher.WithLogger(logger))
			defer f.Close()

			pages := f.FetchPages(cmd.Context(), args[0], referer, depth)
			for _, page := range pages {
				if err := appInstance.Sink().Write(cmd.Context(), page); err != nil {
					return fmt.Errorf("write page: %w", err)
				}
			}
			last := pages[len(pages)-1]
			logger.Info("fetch finished",
				zap.String("url", args[0]),
				zap.Int("records", len(pages)),
				zap.Int("status", last.StatusCode),
			)
			if last.Err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], last.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&referer, "referer", "", "Referer header for the first request")
	cmd.Flags().IntVar(&depth, "depth", 0, "depth recorded on the page records")
	return cmd
}
