package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

// newCrawlCmd runs the worker pool over a fixed list of URLs and exits when
// every worker has consumed its end sentinel.
func newCrawlCmd() *cobra.Command {
	var inputFile string
	cmd := &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Fetch a list of URLs with the worker pool",
		Long: `Queues every URL given as an argument or listed in --input (one per
line) at depth 0, runs worker.count workers over them and writes the page
records to the configured sinks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls := args
			if inputFile != "" {
				fromFile, err := readURLFile(inputFile)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs given")
			}

			ctx := cmd.Context()
			logger := appInstance.GetLogger()
			d := appInstance.Dispatcher()

			appInstance.StartDrain(ctx)
			for range appInstance.GetConfig().Worker.Count {
				d.Spawn(ctx)
			}
			for _, u := range urls {
				if err := d.Enqueue(ctx, crawler.Job{URL: u}); err != nil {
					return err
				}
			}
			if err := d.Shutdown(ctx); err != nil {
				return err
			}
			d.Wait()
			appInstance.Finish()

			logger.Info("crawl command finished", zap.Int("urls", len(urls)))
			return nil
		},
	}
	cmd.Flags().StringVar(&inputFile, "input", "", "file with one URL per line")
	return cmd
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return urls, nil
}
