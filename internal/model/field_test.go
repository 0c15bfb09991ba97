package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValueSQLArg(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-1234", Number(decimal.NewFromInt(-1234)).SQLArg())
	assert.Equal(t, "12.5", Number(decimal.RequireFromString("12.50")).SQLArg())
	assert.Equal(t, "台積電", Text("台積電").SQLArg())
	assert.Nil(t, Absent().SQLArg())
	assert.Nil(t, Value{}.SQLArg())
}

func TestValueAbsentIsNotZero(t *testing.T) {
	t.Parallel()

	zero := Number(decimal.Zero)
	assert.False(t, zero.IsAbsent())
	assert.Equal(t, "0", zero.SQLArg())
	assert.True(t, Absent().IsAbsent())
}

func TestDedupeRecordsKeepsFirst(t *testing.T) {
	t.Parallel()

	q := Quarter(2024, 2)
	records := []Record{
		{StockID: "2330", Report: ReportBalanceSheet, Period: q, Field: "total_assets", Value: Number(decimal.NewFromInt(1))},
		{StockID: "2330", Report: ReportBalanceSheet, Period: q, Field: "total_assets", Value: Number(decimal.NewFromInt(2))},
		{StockID: "2330", Report: ReportBalanceSheet, Period: Quarter(2024, 1), Field: "total_assets", Value: Number(decimal.NewFromInt(3))},
	}

	got := DedupeRecords(records)
	assert.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Value.String())
	assert.Equal(t, "3", got[1].Value.String())
}

func TestReportTypesOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []ReportType{
		ReportCompanyInfo, ReportRevenue, ReportBalanceSheet, ReportIncomeStatement, ReportCashFlow,
	}, ReportTypes)
	assert.True(t, ReportCashFlow.IsStatement())
	assert.False(t, ReportRevenue.IsStatement())
}
