package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/store"
)

var checkDBCmd = &cobra.Command{
	Use:   "check-db",
	Short: "Check the database connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("db"); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "check-db: connect")
		}
		defer st.Close() //nolint:errcheck

		return checkDB(ctx, st, os.Stdout)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  "Creates the company, revenue, statement and combined tables if they do not exist. crawl does this automatically.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("db"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("schema applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkDBCmd)
	rootCmd.AddCommand(migrateCmd)
}

func checkDB(ctx context.Context, st store.Store, out io.Writer) error {
	if err := st.Ping(ctx); err != nil {
		return eris.Wrap(err, "check-db: ping")
	}
	version, err := st.ServerVersion(ctx)
	if err != nil {
		return eris.Wrap(err, "check-db: server version")
	}
	_, _ = fmt.Fprintf(out, "connected: %s\n", version)
	return nil
}
