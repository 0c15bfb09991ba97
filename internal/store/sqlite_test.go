package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func statementRows() (bs, inc, cf [][]any) {
	bs = [][]any{
		{"2330", 2024, 2, "2000", "5000", "900", "2000", "259", "3000", "115.6"},
		{"2330", 2024, 1, "1900", "4800", "850", "1950", "259", "2850", "110.1"},
	}
	inc = [][]any{
		{"2330", 2024, 2, "673510", "356000", "286500", "288000", "247800", "9.56"},
		{"2330", 2023, 4, "625530", "331000", "258000", "262000", "238700", "9.21"},
	}
	cf = [][]any{
		{"2330", 2024, 2, "377000", "-205000", "-52000", nil},
	}
	return bs, inc, cf
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_UpsertTwiceKeepsRowCount(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	bs, _, _ := statementRows()

	_, err := st.Upsert(ctx, BalanceSheet, bs)
	require.NoError(t, err)
	_, err = st.Upsert(ctx, BalanceSheet, bs)
	require.NoError(t, err)

	counts, err := st.CountRows(ctx, "2330")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["balance_sheet"])
}

func TestSQLite_UpsertUpdatesValues(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	row := []any{"2330", "台灣積體電路製造股份有限公司", "半導體業", "魏哲家", "魏哲家", "黃仁昭", "新竹科學園區力行六路8號", "03-5636688", "www.tsmc.com", "晶圓製造", "259325245210"}
	_, err := st.Upsert(ctx, CompanyInfo, [][]any{row})
	require.NoError(t, err)

	row[3] = "新董事長"
	_, err = st.Upsert(ctx, CompanyInfo, [][]any{row})
	require.NoError(t, err)

	var chairman string
	var capital float64
	require.NoError(t, st.DB().QueryRow(`SELECT chairman, capital FROM company_info WHERE company_id = ?`, "2330").Scan(&chairman, &capital))
	assert.Equal(t, "新董事長", chairman)
	assert.InDelta(t, 259325245210, capital, 1)
}

func TestSQLite_NullStaysNull(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, _, cf := statementRows()

	_, err := st.Upsert(ctx, CashFlow, cf)
	require.NoError(t, err)

	var v sql.NullString
	require.NoError(t, st.DB().QueryRow(`SELECT net_change_in_cash FROM cash_flow WHERE company_id = ?`, "2330").Scan(&v))
	assert.False(t, v.Valid)
}

func TestSQLite_RevenueKeyIncludesType(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rows := [][]any{
		{"2330", 2024, 9, "monthly", "251873", "180430", "39.6"},
		{"2330", 2024, 9, "cumulative", "2025846", "1536206", "31.88"},
	}
	_, err := st.Upsert(ctx, CompanyRevenue, rows)
	require.NoError(t, err)
	_, err = st.Upsert(ctx, CompanyRevenue, rows)
	require.NoError(t, err)

	counts, err := st.CountRows(ctx, "2330")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["company_revenue"])
}

func TestSQLite_RowWidthMismatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.Upsert(context.Background(), CashFlow, [][]any{{"2330", 2024}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 2 values")
}

func TestSQLite_RebuildCombinedUnionOfKeys(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	bs, inc, cf := statementRows()

	for tbl, rows := range map[string][][]any{"bs": bs, "inc": inc, "cf": cf} {
		var target Table
		switch tbl {
		case "bs":
			target = BalanceSheet
		case "inc":
			target = IncomeStatement
		case "cf":
			target = CashFlow
		}
		_, err := st.Upsert(ctx, target, rows)
		require.NoError(t, err)
	}

	n, err := st.RebuildCombined(ctx, "2330")
	require.NoError(t, err)
	// keys: 2024Q2, 2024Q1, 2023Q4
	assert.Equal(t, int64(3), n)

	var totalAssets sql.NullString
	var eps sql.NullString
	require.NoError(t, st.DB().QueryRow(
		`SELECT total_assets, earnings_per_share FROM financial_data_combined WHERE company_id = ? AND year = ? AND quarter = ?`,
		"2330", 2023, 4).Scan(&totalAssets, &eps))
	assert.False(t, totalAssets.Valid)
	assert.True(t, eps.Valid)
}

func TestSQLite_RebuildCombinedMatchesDerivation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	bs, inc, cf := statementRows()

	// Three passes: the combined table must never accumulate stale rows.
	for pass := 0; pass < 3; pass++ {
		_, err := st.Upsert(ctx, BalanceSheet, bs)
		require.NoError(t, err)
		_, err = st.Upsert(ctx, IncomeStatement, inc)
		require.NoError(t, err)
		_, err = st.Upsert(ctx, CashFlow, cf)
		require.NoError(t, err)
		_, err = st.RebuildCombined(ctx, "2330")
		require.NoError(t, err)
	}

	derived := `
SELECT k.year, k.quarter, bs.total_assets, inc.net_income, cf.operating_cash_flow
FROM (SELECT company_id, year, quarter FROM balance_sheet WHERE company_id = ?1
      UNION SELECT company_id, year, quarter FROM income_statement WHERE company_id = ?1
      UNION SELECT company_id, year, quarter FROM cash_flow WHERE company_id = ?1) k
LEFT JOIN balance_sheet bs ON bs.company_id = k.company_id AND bs.year = k.year AND bs.quarter = k.quarter
LEFT JOIN income_statement inc ON inc.company_id = k.company_id AND inc.year = k.year AND inc.quarter = k.quarter
LEFT JOIN cash_flow cf ON cf.company_id = k.company_id AND cf.year = k.year AND cf.quarter = k.quarter
ORDER BY k.year, k.quarter`
	combined := `
SELECT year, quarter, total_assets, net_income, operating_cash_flow
FROM financial_data_combined WHERE company_id = ?1 ORDER BY year, quarter`

	assert.Equal(t, queryStrings(t, st.DB(), derived), queryStrings(t, st.DB(), combined))
}

func TestSQLite_RebuildCombinedIsPerCompany(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	bs, _, _ := statementRows()

	other := [][]any{{"2317", 2024, 2, "1", "2", "3", "4", "5", "6", "7"}}
	_, err := st.Upsert(ctx, BalanceSheet, append(bs, other...))
	require.NoError(t, err)
	_, err = st.RebuildCombined(ctx, "2317")
	require.NoError(t, err)
	_, err = st.RebuildCombined(ctx, "2330")
	require.NoError(t, err)

	c2317, err := st.CountRows(ctx, "2317")
	require.NoError(t, err)
	c2330, err := st.CountRows(ctx, "2330")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c2317["financial_data_combined"])
	assert.Equal(t, int64(2), c2330["financial_data_combined"])
}

func TestSQLite_ServerVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	v, err := st.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Contains(t, v, "SQLite 3.")
	assert.NoError(t, st.Ping(context.Background()))
}

func queryStrings(t *testing.T, db *sql.DB, query string) [][]string {
	t.Helper()
	rows, err := db.Query(query, "2330")
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		row := make([]string, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "<null>"
			}
		}
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}
