package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/twstock-cli/internal/db"
	"github.com/sells-group/twstock-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; pragmas apply per connection.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS company_info (
	company_id    TEXT PRIMARY KEY,
	company_name  TEXT,
	industry      TEXT,
	chairman      TEXT,
	ceo           TEXT,
	spokesperson  TEXT,
	address       TEXT,
	phone         TEXT,
	website       TEXT,
	main_business TEXT,
	capital       NUMERIC,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS company_revenue (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id       TEXT NOT NULL,
	year             INTEGER NOT NULL,
	month            INTEGER NOT NULL,
	revenue_type     TEXT NOT NULL,
	current_revenue  NUMERIC,
	previous_revenue NUMERIC,
	growth_rate      NUMERIC,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (company_id, year, month, revenue_type)
);

CREATE TABLE IF NOT EXISTS balance_sheet (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id          TEXT NOT NULL,
	year                INTEGER NOT NULL,
	quarter             INTEGER NOT NULL DEFAULT 0,
	current_assets      NUMERIC,
	total_assets        NUMERIC,
	current_liabilities NUMERIC,
	total_liabilities   NUMERIC,
	share_capital       NUMERIC,
	total_equity        NUMERIC,
	net_worth_per_share NUMERIC,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (company_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS income_statement (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id         TEXT NOT NULL,
	year               INTEGER NOT NULL,
	quarter            INTEGER NOT NULL DEFAULT 0,
	operating_revenue  NUMERIC,
	gross_profit       NUMERIC,
	operating_profit   NUMERIC,
	profit_before_tax  NUMERIC,
	net_income         NUMERIC,
	earnings_per_share NUMERIC,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (company_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS cash_flow (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id          TEXT NOT NULL,
	year                INTEGER NOT NULL,
	quarter             INTEGER NOT NULL DEFAULT 0,
	operating_cash_flow NUMERIC,
	investing_cash_flow NUMERIC,
	financing_cash_flow NUMERIC,
	net_change_in_cash  NUMERIC,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (company_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS financial_data_combined (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id          TEXT NOT NULL,
	year                INTEGER NOT NULL,
	quarter             INTEGER NOT NULL DEFAULT 0,
	current_assets      NUMERIC,
	total_assets        NUMERIC,
	current_liabilities NUMERIC,
	total_liabilities   NUMERIC,
	share_capital       NUMERIC,
	total_equity        NUMERIC,
	net_worth_per_share NUMERIC,
	operating_revenue   NUMERIC,
	gross_profit        NUMERIC,
	operating_profit    NUMERIC,
	profit_before_tax   NUMERIC,
	net_income          NUMERIC,
	earnings_per_share  NUMERIC,
	operating_cash_flow NUMERIC,
	investing_cash_flow NUMERIC,
	financing_cash_flow NUMERIC,
	net_change_in_cash  NUMERIC,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (company_id, year, quarter)
);

CREATE INDEX IF NOT EXISTS idx_company_revenue_company ON company_revenue(company_id);
CREATE INDEX IF NOT EXISTS idx_balance_sheet_company ON balance_sheet(company_id);
CREATE INDEX IF NOT EXISTS idx_income_statement_company ON income_statement(company_id);
CREATE INDEX IF NOT EXISTS idx_cash_flow_company ON cash_flow(company_id);
CREATE INDEX IF NOT EXISTS idx_combined_company ON financial_data_combined(company_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", eris.Wrap(err, "sqlite: server version")
	}
	return "SQLite " + v, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, t Table, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cfg := t.UpsertConfig()
	for i, r := range rows {
		if len(r) != len(cfg.Columns) {
			return 0, eris.Errorf("sqlite: upsert %s: row %d has %d values, want %d", t.Name, i, len(r), len(cfg.Columns))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var affected int64
	for _, chunk := range db.Chunks(cfg, rows) {
		query, err := db.BuildUpsert(db.SQLite, cfg, len(chunk))
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, query, db.Flatten(chunk)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert %s", t.Name)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: commit tx")
	}
	return affected, nil
}

func (s *SQLiteStore) RebuildCombined(ctx context.Context, stockID model.Identifier) (int64, error) {
	del, ins := rebuildCombinedSQL(db.SQLite)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rebuild combined: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, del, string(stockID)); err != nil {
		return 0, eris.Wrapf(err, "sqlite: rebuild combined: delete %s", stockID)
	}
	res, err := tx.ExecContext(ctx, ins, string(stockID))
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: rebuild combined: insert %s", stockID)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: rebuild combined: commit tx")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) CountRows(ctx context.Context, stockID model.Identifier) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, countSQL(db.SQLite, t), string(stockID)).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", t.Name)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

// DB exposes the handle for read-side helpers and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
