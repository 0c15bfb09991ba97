package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/model"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [stock-id...]",
	Short: "Crawl report pages for a list of stock ids",
	Long:  "Walks every report stage for each stock id in order, upserts the normalized records, rebuilds the combined table and downloads linked filings. Exits non-zero when any id failed or the run was aborted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		flagIDs, _ := cmd.Flags().GetStringSlice("stock-ids")
		noFilings, _ := cmd.Flags().GetBool("no-filings")
		summaryPath, _ := cmd.Flags().GetString("summary")

		ids := resolveIDs(args, flagIDs, cfg.Batch.StockIDs)
		if len(ids) == 0 {
			return eris.New("no stock ids to crawl")
		}
		cmd.SilenceUsage = true

		env, err := initCrawl(ctx, !noFilings)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, runErr := env.Runner.Run(ctx, ids)
		if summaryPath != "" && sum != nil {
			if err := writeSummary(summaryPath, sum); err != nil {
				zap.L().Error("failed to write summary", zap.String("path", summaryPath), zap.Error(err))
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "crawl aborted")
		}
		if sum.HasFailures() {
			return eris.Errorf("crawl finished with %d failed and %d skipped ids", len(sum.Failed), len(sum.Skipped))
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringSlice("stock-ids", nil, "stock ids to crawl (comma-separated or repeated)")
	crawlCmd.Flags().Bool("no-filings", false, "skip PDF filing downloads")
	crawlCmd.Flags().String("summary", "", "write the run summary as JSON to this path")
	rootCmd.AddCommand(crawlCmd)
}

// resolveIDs merges positional and flag ids, falling back to the
// configured list when both are empty.
func resolveIDs(args, flagIDs, defaults []string) []model.Identifier {
	raw := append(append([]string{}, args...), flagIDs...)
	if len(raw) == 0 {
		raw = defaults
	}
	return model.ParseIdentifiers(raw)
}

func writeSummary(path string, sum *model.Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal summary")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "write summary %s", path)
	}
	return nil
}
