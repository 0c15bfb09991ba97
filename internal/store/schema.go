package store

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/twstock-cli/internal/db"
	"github.com/sells-group/twstock-cli/internal/model"
)

// Table describes one persisted table: its natural key and value columns.
// Value column names double as the canonical field names the normalizer emits.
type Table struct {
	Name    string
	Keys    []string
	Columns []string
}

// AllColumns returns key columns followed by value columns, the order rows
// passed to Upsert must use.
func (t Table) AllColumns() []string {
	out := make([]string, 0, len(t.Keys)+len(t.Columns))
	out = append(out, t.Keys...)
	return append(out, t.Columns...)
}

// UpsertConfig returns the db upsert parameters for the table.
func (t Table) UpsertConfig() db.UpsertConfig {
	return db.UpsertConfig{
		Table:        t.Name,
		Columns:      t.AllColumns(),
		ConflictKeys: t.Keys,
		Touch:        "updated_at",
	}
}

// HasColumn reports whether name is one of the table's value columns.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

var (
	CompanyInfo = Table{
		Name: "company_info",
		Keys: []string{"company_id"},
		Columns: []string{
			"company_name", "industry", "chairman", "ceo", "spokesperson",
			"address", "phone", "website", "main_business", "capital",
		},
	}
	CompanyRevenue = Table{
		Name:    "company_revenue",
		Keys:    []string{"company_id", "year", "month", "revenue_type"},
		Columns: []string{"current_revenue", "previous_revenue", "growth_rate"},
	}
	BalanceSheet = Table{
		Name: "balance_sheet",
		Keys: []string{"company_id", "year", "quarter"},
		Columns: []string{
			"current_assets", "total_assets", "current_liabilities", "total_liabilities",
			"share_capital", "total_equity", "net_worth_per_share",
		},
	}
	IncomeStatement = Table{
		Name: "income_statement",
		Keys: []string{"company_id", "year", "quarter"},
		Columns: []string{
			"operating_revenue", "gross_profit", "operating_profit",
			"profit_before_tax", "net_income", "earnings_per_share",
		},
	}
	CashFlow = Table{
		Name: "cash_flow",
		Keys: []string{"company_id", "year", "quarter"},
		Columns: []string{
			"operating_cash_flow", "investing_cash_flow", "financing_cash_flow", "net_change_in_cash",
		},
	}
	Combined = Table{
		Name:    "financial_data_combined",
		Keys:    []string{"company_id", "year", "quarter"},
		Columns: combinedColumns(),
	}
)

// Tables lists every table in migration order.
var Tables = []Table{CompanyInfo, CompanyRevenue, BalanceSheet, IncomeStatement, CashFlow, Combined}

// statementTables feed the combined table, with their join aliases.
var statementTables = []struct {
	table Table
	alias string
}{
	{BalanceSheet, "bs"},
	{IncomeStatement, "inc"},
	{CashFlow, "cf"},
}

func combinedColumns() []string {
	var cols []string
	for _, t := range []Table{BalanceSheet, IncomeStatement, CashFlow} {
		cols = append(cols, t.Columns...)
	}
	return cols
}

// TableFor returns the table a report persists into.
func TableFor(report model.ReportType) (Table, bool) {
	switch report {
	case model.ReportCompanyInfo:
		return CompanyInfo, true
	case model.ReportRevenue:
		return CompanyRevenue, true
	case model.ReportBalanceSheet:
		return BalanceSheet, true
	case model.ReportIncomeStatement:
		return IncomeStatement, true
	case model.ReportCashFlow:
		return CashFlow, true
	default:
		return Table{}, false
	}
}

func param(d db.Dialect) string {
	if d == db.SQLite {
		return "?1"
	}
	return "$1"
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// rebuildCombinedSQL returns the delete and insert statements that re-derive
// one company's combined rows from the statement tables. Both take the
// company id as their only parameter.
func rebuildCombinedSQL(d db.Dialect) (string, string) {
	p := param(d)

	del := fmt.Sprintf("DELETE FROM %s WHERE company_id = %s", ident(Combined.Name), p)

	var keys []string
	for _, st := range statementTables {
		keys = append(keys, fmt.Sprintf("SELECT company_id, year, quarter FROM %s WHERE company_id = %s", ident(st.table.Name), p))
	}

	var selectCols []string
	var joins []string
	for _, st := range statementTables {
		for _, c := range st.table.Columns {
			selectCols = append(selectCols, st.alias+"."+ident(c))
		}
		joins = append(joins, fmt.Sprintf(
			"LEFT JOIN %s %s ON %s.company_id = k.company_id AND %s.year = k.year AND %s.quarter = k.quarter",
			ident(st.table.Name), st.alias, st.alias, st.alias, st.alias,
		))
	}

	cols := append(Combined.AllColumns(), "updated_at")
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}

	ins := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT k.company_id, k.year, k.quarter, %s, CURRENT_TIMESTAMP FROM (%s) k %s",
		ident(Combined.Name),
		strings.Join(quoted, ", "),
		strings.Join(selectCols, ", "),
		strings.Join(keys, " UNION "),
		strings.Join(joins, " "),
	)
	return del, ins
}

// countSQL counts one company's rows in a table.
func countSQL(d db.Dialect, t Table) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE company_id = %s", ident(t.Name), param(d))
}
