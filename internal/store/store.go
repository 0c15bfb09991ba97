package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

// Store defines the persistence interface for crawled company data.
// Every write is an upsert by natural key.
type Store interface {
	// Upsert writes rows into t. Each row holds t.AllColumns() in order.
	Upsert(ctx context.Context, t Table, rows [][]any) (int64, error)

	// RebuildCombined replaces a company's combined rows with a fresh
	// derivation from the three statement tables, atomically.
	RebuildCombined(ctx context.Context, stockID model.Identifier) (int64, error)

	// CountRows returns the company's row count per table name.
	CountRows(ctx context.Context, stockID model.Identifier) (map[string]int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	ServerVersion(ctx context.Context) (string, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and tunes a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	Pool        *PoolConfig
	Retry       resilience.RetryConfig
}

// Open connects to the configured backend. Postgres connection attempts are
// retried with backoff; an unreachable database yields an error.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "postgres", "":
		cfg := opts.Retry
		cfg.ShouldRetry = func(error) bool { return true }
		cfg.OnRetry = resilience.RetryLogger("store", "connect")
		return resilience.DoVal(ctx, cfg, func(ctx context.Context) (Store, error) {
			s, err := NewPostgres(ctx, opts.DatabaseURL, opts.Pool)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	case "sqlite":
		s, err := NewSQLite(opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
}
