package normalize

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// maxSpan bounds colspan/rowspan attributes; the site never exceeds a few
// dozen and a hostile value must not blow up the grid.
const maxSpan = 256

// Grid is one HTML table flattened into rows of cell text. Spanned cells are
// repeated into every position they cover so columns line up.
type Grid [][]string

// Cell returns the text at (r, c), or "" outside the grid.
func (g Grid) Cell(r, c int) string {
	if r < 0 || r >= len(g) || c < 0 || c >= len(g[r]) {
		return ""
	}
	return g[r][c]
}

// Width returns the widest row length.
func (g Grid) Width() int {
	w := 0
	for _, row := range g {
		w = max(w, len(row))
	}
	return w
}

// document is a parsed page: its tables and the text outside them.
type document struct {
	tables []Grid
	text   string
}

func parseDocument(html string) (*document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "normalize: parse html")
	}
	doc.Find("script, style, noscript").Remove()

	out := &document{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if g := buildGrid(table); len(g) > 0 {
			out.tables = append(out.tables, g)
		}
	})

	doc.Find("table").Remove()
	out.text = collapseSpace(doc.Text())
	return out, nil
}

// buildGrid expands one table. Rows of nested tables belong to those tables
// and are skipped here.
func buildGrid(table *goquery.Selection) Grid {
	type carry struct {
		text string
		left int
	}
	var (
		grid    Grid
		carries []carry
	)

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(table) {
			return
		}

		var row []string
		fill := func() {
			for len(row) < len(carries) && carries[len(row)].left > 0 {
				c := &carries[len(row)]
				row = append(row, c.text)
				c.left--
			}
		}

		fill()
		tr.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
			colspan := spanAttr(cell, "colspan")
			rowspan := spanAttr(cell, "rowspan")
			text := cellText(cell)
			for i := 0; i < colspan; i++ {
				col := len(row)
				row = append(row, text)
				if rowspan > 1 {
					for len(carries) <= col {
						carries = append(carries, carry{})
					}
					carries[col] = carry{text: text, left: rowspan - 1}
				}
			}
			fill()
		})

		if len(row) > 0 {
			grid = append(grid, row)
		}
	})

	w := grid.Width()
	for i := range grid {
		for len(grid[i]) < w {
			grid[i] = append(grid[i], "")
		}
	}
	return grid
}

// cellText is the cell's own text. Nested tables are left out; they are
// gridded on their own.
func cellText(cell *goquery.Selection) string {
	if cell.Find("table").Length() == 0 {
		return collapseSpace(cell.Text())
	}
	return collapseSpace(cell.Clone().Find("table").Remove().End().Text())
}

func spanAttr(cell *goquery.Selection, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(cell.AttrOr(name, "1")))
	if err != nil || n < 1 {
		return 1
	}
	return min(n, maxSpan)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
