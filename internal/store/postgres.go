package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/twstock-cli/internal/db"
	"github.com/sells-group/twstock-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// The crawler is a single writer; a small pool is enough.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, e.g. a pgxmock pool in tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS company_info (
	company_id    VARCHAR(10) PRIMARY KEY,
	company_name  VARCHAR(100),
	industry      VARCHAR(100),
	chairman      VARCHAR(100),
	ceo           VARCHAR(100),
	spokesperson  VARCHAR(100),
	address       VARCHAR(255),
	phone         VARCHAR(40),
	website       VARCHAR(255),
	main_business TEXT,
	capital       NUMERIC(20, 2),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS company_revenue (
	id               BIGSERIAL PRIMARY KEY,
	company_id       VARCHAR(10) NOT NULL,
	year             INT NOT NULL,
	month            INT NOT NULL,
	revenue_type     VARCHAR(20) NOT NULL,
	current_revenue  NUMERIC(20, 2),
	previous_revenue NUMERIC(20, 2),
	growth_rate      NUMERIC(10, 2),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT company_revenue_unique UNIQUE (company_id, year, month, revenue_type)
);

CREATE TABLE IF NOT EXISTS balance_sheet (
	id                  BIGSERIAL PRIMARY KEY,
	company_id          VARCHAR(10) NOT NULL,
	year                INT NOT NULL,
	quarter             INT NOT NULL DEFAULT 0,
	current_assets      NUMERIC(20, 2),
	total_assets        NUMERIC(20, 2),
	current_liabilities NUMERIC(20, 2),
	total_liabilities   NUMERIC(20, 2),
	share_capital       NUMERIC(20, 2),
	total_equity        NUMERIC(20, 2),
	net_worth_per_share NUMERIC(10, 2),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT balance_sheet_unique UNIQUE (company_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS income_statement (
	id                 BIGSERIAL PRIMARY KEY,
	company_id         VARCHAR(10) NOT NULL,
	year               INT NOT NULL,
	quarter            INT NOT NULL DEFAULT 0,
	operating_revenue  NUMERIC(20, 2),
	gross_profit       NUMERIC(20, 2),
	operating_profit   NUMERIC(20, 2),
	profit_before_tax  NUMERIC(20, 2),
	net_income         NUMERIC(20, 2),
	earnings_per_share NUMERIC(10, 2),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT income_statement_unique UNIQUE (company_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS cash_flow (
	id                  BIGSERIAL PRIMARY KEY,
	company_id          VARCHAR(10) NOT NULL,
	year                INT NOT NULL,
	quarter             INT NOT NULL DEFAULT 0,
	operating_cash_flow NUMERIC(20, 2),
	investing_cash_flow NUMERIC(20, 2),
	financing_cash_flow NUMERIC(20, 2),
	net_change_in_cash  NUMERIC(20, 2),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT cash_flow_unique UNIQUE (company_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS financial_data_combined (
	id                  BIGSERIAL PRIMARY KEY,
	company_id          VARCHAR(10) NOT NULL,
	year                INT NOT NULL,
	quarter             INT NOT NULL DEFAULT 0,
	current_assets      NUMERIC(20, 2),
	total_assets        NUMERIC(20, 2),
	current_liabilities NUMERIC(20, 2),
	total_liabilities   NUMERIC(20, 2),
	share_capital       NUMERIC(20, 2),
	total_equity        NUMERIC(20, 2),
	net_worth_per_share NUMERIC(10, 2),
	operating_revenue   NUMERIC(20, 2),
	gross_profit        NUMERIC(20, 2),
	operating_profit    NUMERIC(20, 2),
	profit_before_tax   NUMERIC(20, 2),
	net_income          NUMERIC(20, 2),
	earnings_per_share  NUMERIC(10, 2),
	operating_cash_flow NUMERIC(20, 2),
	investing_cash_flow NUMERIC(20, 2),
	financing_cash_flow NUMERIC(20, 2),
	net_change_in_cash  NUMERIC(20, 2),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT financial_data_combined_unique UNIQUE (company_id, year, quarter)
);

CREATE INDEX IF NOT EXISTS idx_company_revenue_company ON company_revenue(company_id);
CREATE INDEX IF NOT EXISTS idx_balance_sheet_company ON balance_sheet(company_id);
CREATE INDEX IF NOT EXISTS idx_income_statement_company ON income_statement(company_id);
CREATE INDEX IF NOT EXISTS idx_cash_flow_company ON cash_flow(company_id);
CREATE INDEX IF NOT EXISTS idx_combined_company ON financial_data_combined(company_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := s.pool.QueryRow(ctx, "SELECT version()").Scan(&v); err != nil {
		return "", eris.Wrap(err, "postgres: server version")
	}
	return v, nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, t Table, rows [][]any) (int64, error) {
	n, err := db.BulkUpsert(ctx, s.pool, t.UpsertConfig(), rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert %s", t.Name)
	}
	return n, nil
}

func (s *PostgresStore) RebuildCombined(ctx context.Context, stockID model.Identifier) (int64, error) {
	del, ins := rebuildCombinedSQL(db.Postgres)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: rebuild combined: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, del, string(stockID)); err != nil {
		return 0, eris.Wrapf(err, "postgres: rebuild combined: delete %s", stockID)
	}
	tag, err := tx.Exec(ctx, ins, string(stockID))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: rebuild combined: insert %s", stockID)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: rebuild combined: commit tx")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountRows(ctx context.Context, stockID model.Identifier) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		var n int64
		if err := s.pool.QueryRow(ctx, countSQL(db.Postgres, t), string(stockID)).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", t.Name)
		}
		counts[t.Name] = n
	}
	return counts, nil
}
