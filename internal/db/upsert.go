package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects placeholder style for generated SQL.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// maxParams stays below the Postgres bind parameter limit (65535) and the
// SQLite default of 32766.
const maxParams = 30000

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "balance_sheet")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Touch        string   // optional timestamp column set to CURRENT_TIMESTAMP on insert and update
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		conflictSet[k] = true
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !conflictSet[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// BatchSize returns how many rows fit in one statement for cfg.
func (cfg UpsertConfig) BatchSize() int {
	n := maxParams / max(len(cfg.Columns), 1)
	return max(n, 1)
}

// BuildUpsert renders INSERT ... VALUES ... ON CONFLICT (...) DO UPDATE for
// nrows rows. Postgres and SQLite (3.24+) both accept the statement.
func BuildUpsert(d Dialect, cfg UpsertConfig, nrows int) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	if nrows <= 0 {
		return "", eris.New("db: upsert: no rows")
	}

	cols := cfg.Columns
	if cfg.Touch != "" {
		cols = append(append([]string{}, cfg.Columns...), cfg.Touch)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sanitizeTable(cfg.Table), quoteAndJoin(cols))

	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cfg.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(d, n))
			n++
		}
		if cfg.Touch != "" {
			b.WriteString(", CURRENT_TIMESTAMP")
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s)", quoteAndJoin(cfg.ConflictKeys))

	var setClauses []string
	for _, col := range cfg.updateCols() {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if cfg.Touch != "" {
		setClauses = append(setClauses, fmt.Sprintf("%s = CURRENT_TIMESTAMP", pgx.Identifier{cfg.Touch}.Sanitize()))
	}
	if len(setClauses) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(setClauses, ", "))
	}

	return b.String(), nil
}

// Flatten turns rows into one argument slice in column order.
func Flatten(rows [][]any) []any {
	var total int
	for _, r := range rows {
		total += len(r)
	}
	args := make([]any, 0, total)
	for _, r := range rows {
		args = append(args, r...)
	}
	return args
}

// Chunks splits rows into statement-sized batches for cfg.
func Chunks(cfg UpsertConfig, rows [][]any) [][][]any {
	size := cfg.BatchSize()
	var out [][][]any
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// BulkUpsert writes rows into a Postgres table in one transaction using
// multi-row INSERT ... ON CONFLICT statements. NUMERIC values may be passed
// as decimal strings; nil becomes NULL.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}
	for i, r := range rows {
		if len(r) != len(cfg.Columns) {
			return 0, eris.Errorf("db: upsert: row %d has %d values, want %d", i, len(r), len(cfg.Columns))
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	var affected int64
	for _, chunk := range Chunks(cfg, rows) {
		query, err := BuildUpsert(Postgres, cfg, len(chunk))
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, query, Flatten(chunk)...)
		if err != nil {
			return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return affected, nil
}

func placeholder(d Dialect, n int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// sanitizeTable handles schema-qualified table names like "public.balance_sheet".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
