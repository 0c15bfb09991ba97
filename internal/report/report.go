// Package report renders per-identifier row counts for the verify command,
// as an aligned text table or an xlsx workbook.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/twstock-cli/internal/model"
)

// Counts holds the stored row count per table for one identifier.
type Counts struct {
	StockID model.Identifier
	Tables  map[string]int64
}

// Total sums the counts across tables.
func (c Counts) Total() int64 {
	var n int64
	for _, v := range c.Tables {
		n += v
	}
	return n
}

// Grid lays counts out as a header plus one row per identifier. Columns
// follow tables in the given order.
func Grid(tables []string, counts []Counts) ([]string, [][]string) {
	header := append([]string{"stock_id"}, tables...)
	header = append(header, "total")

	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		row := make([]string, 0, len(header))
		row = append(row, c.StockID.String())
		for _, t := range tables {
			row = append(row, strconv.FormatInt(c.Tables[t], 10))
		}
		row = append(row, strconv.FormatInt(c.Total(), 10))
		rows = append(rows, row)
	}
	return header, rows
}

// WriteText prints the grid with aligned columns.
func WriteText(out io.Writer, header []string, rows [][]string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.ToUpper(strings.Join(header, "\t")))
	for _, r := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	return eris.Wrap(w.Flush(), "report: flush")
}

// WriteXLSX saves the grid as a single-sheet workbook. Count cells are
// written as numbers so the sheet can be summed.
func WriteXLSX(path, sheetName string, header []string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %q", sheetName)
	}

	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for i, v := range r {
			cell := row.AddCell()
			n, err := strconv.ParseInt(v, 10, 64)
			if i == 0 || err != nil {
				cell.SetString(v)
				continue
			}
			cell.SetInt64(n)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}
