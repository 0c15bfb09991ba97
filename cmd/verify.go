package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/report"
	"github.com/sells-group/twstock-cli/internal/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Print stored row counts per stock id",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("verify"); err != nil {
			return err
		}

		flagIDs, _ := cmd.Flags().GetStringSlice("stock-ids")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		ids := resolveIDs(args, flagIDs, cfg.Batch.StockIDs)

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runVerify(ctx, st, ids, os.Stdout, xlsxPath)
	},
}

func init() {
	verifyCmd.Flags().StringSlice("stock-ids", nil, "stock ids to report (default: configured list)")
	verifyCmd.Flags().String("xlsx", "", "also write the counts to this spreadsheet")
	rootCmd.AddCommand(verifyCmd)
}

// runVerify counts each id's rows and writes the table to out and,
// optionally, a spreadsheet.
func runVerify(ctx context.Context, st store.Store, ids []model.Identifier, out io.Writer, xlsxPath string) error {
	counts := make([]report.Counts, 0, len(ids))
	for _, id := range ids {
		c, err := st.CountRows(ctx, id)
		if err != nil {
			return eris.Wrapf(err, "verify %s", id)
		}
		counts = append(counts, report.Counts{StockID: id, Tables: c})
	}

	names := make([]string, len(store.Tables))
	for i, t := range store.Tables {
		names[i] = t.Name
	}
	header, rows := report.Grid(names, counts)

	if err := report.WriteText(out, header, rows); err != nil {
		return err
	}
	if xlsxPath != "" {
		if err := report.WriteXLSX(xlsxPath, "row_counts", header, rows); err != nil {
			return err
		}
		zap.L().Info("verify: spreadsheet written", zap.String("path", xlsxPath))
	}
	return nil
}
