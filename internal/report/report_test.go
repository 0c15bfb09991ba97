package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func sample() []Counts {
	return []Counts{
		{StockID: "2330", Tables: map[string]int64{"company_info": 1, "balance_sheet": 8}},
		{StockID: "0001", Tables: map[string]int64{}},
	}
}

func TestGrid(t *testing.T) {
	header, rows := Grid([]string{"company_info", "balance_sheet"}, sample())
	assert.Equal(t, []string{"stock_id", "company_info", "balance_sheet", "total"}, header)
	assert.Equal(t, [][]string{
		{"2330", "1", "8", "9"},
		{"0001", "0", "0", "0"},
	}, rows)
}

func TestWriteText(t *testing.T) {
	header, rows := Grid([]string{"company_info"}, sample())
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, header, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "STOCK_ID"))
	assert.Contains(t, lines[1], "2330")
	assert.Equal(t, strings.Index(lines[0], "TOTAL"), strings.Index(lines[1], "9"))
}

func TestWriteXLSX(t *testing.T) {
	header, rows := Grid([]string{"company_info", "balance_sheet"}, sample())
	path := filepath.Join(t.TempDir(), "counts.xlsx")
	require.NoError(t, WriteXLSX(path, "row_counts", header, rows))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["row_counts"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "stock_id", sheet.Rows[0].Cells[0].String())
	// Leading zeros in the stock id survive as text.
	assert.Equal(t, "0001", sheet.Rows[2].Cells[0].String())
	n, err := sheet.Rows[1].Cells[2].Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestWriteXLSX_BadPath(t *testing.T) {
	err := WriteXLSX(filepath.Join(t.TempDir(), "missing", "x.xlsx"), "s", []string{"a"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report: save")
}
