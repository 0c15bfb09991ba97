package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReportType identifies one of the report pages crawled per company.
type ReportType string

const (
	ReportCompanyInfo     ReportType = "company_info"
	ReportRevenue         ReportType = "revenue"
	ReportBalanceSheet    ReportType = "balance_sheet"
	ReportIncomeStatement ReportType = "income_statement"
	ReportCashFlow        ReportType = "cash_flow"
)

// ReportTypes lists every report in crawl order.
var ReportTypes = []ReportType{
	ReportCompanyInfo,
	ReportRevenue,
	ReportBalanceSheet,
	ReportIncomeStatement,
	ReportCashFlow,
}

// IsStatement reports whether the report feeds the combined financial table.
func (r ReportType) IsStatement() bool {
	return r == ReportBalanceSheet || r == ReportIncomeStatement || r == ReportCashFlow
}

// ValueKind distinguishes numeric, textual and missing cell values.
type ValueKind string

const (
	KindNumeric ValueKind = "numeric"
	KindText    ValueKind = "text"
	KindAbsent  ValueKind = "absent"
)

// Value is a normalized cell. Absent is distinct from zero.
type Value struct {
	Kind   ValueKind
	Number decimal.Decimal
	Text   string
}

// Number wraps a numeric value.
func Number(d decimal.Decimal) Value { return Value{Kind: KindNumeric, Number: d} }

// Text wraps a text value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Absent is the missing value.
func Absent() Value { return Value{Kind: KindAbsent} }

// IsAbsent reports whether the value is missing.
func (v Value) IsAbsent() bool { return v.Kind == KindAbsent || v.Kind == "" }

func (v Value) String() string {
	switch v.Kind {
	case KindNumeric:
		return v.Number.String()
	case KindText:
		return v.Text
	default:
		return ""
	}
}

// SQLArg converts the value into a driver argument: numbers travel as
// decimal strings so NUMERIC columns keep full precision, absent is NULL.
func (v Value) SQLArg() any {
	switch v.Kind {
	case KindNumeric:
		return v.Number.String()
	case KindText:
		return v.Text
	default:
		return nil
	}
}

// Record is one normalized fact about a company.
type Record struct {
	StockID Identifier
	Report  ReportType
	Period  FiscalPeriod
	Field   string
	Value   Value
}

// RecordKey is the uniqueness key of a Record within one normalization output.
type RecordKey struct {
	StockID Identifier
	Report  ReportType
	Period  string
	Field   string
}

// Key returns the record's uniqueness key.
func (r Record) Key() RecordKey {
	return RecordKey{StockID: r.StockID, Report: r.Report, Period: r.Period.Key(), Field: r.Field}
}

func (r Record) String() string {
	return fmt.Sprintf("%s/%s/%s/%s=%s", r.StockID, r.Report, r.Period.Key(), r.Field, r.Value)
}

// DedupeRecords keeps the first record for each key, preserving order.
func DedupeRecords(records []Record) []Record {
	seen := make(map[RecordKey]bool, len(records))
	out := records[:0:0]
	for _, r := range records {
		k := r.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
