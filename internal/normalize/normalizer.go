// Package normalize turns rendered report pages into uniform records.
//
// Every report type is described by a schema (embedded YAML, overridable from
// a directory) naming the table layout and the label aliases of each field, so
// a change in the site's labels is a data change rather than a code change.
package normalize

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

// DefaultMatchThreshold is the share of schema fields a table must match.
const DefaultMatchThreshold = 0.5

// DefaultNoDataMessages are the site's "nothing to show" notices.
var DefaultNoDataMessages = []string{"查無所需資料", "無此代號之公司", "尚無資料", "公司代號無效", "查無資料"}

// Options configures a Normalizer.
type Options struct {
	SchemaDir      string
	MatchThreshold float64
	NoDataMessages []string
}

// Normalizer converts pages to records using per-report schemas.
type Normalizer struct {
	schemas   map[model.ReportType]*Schema
	threshold float64
	noData    []string
}

// New loads schemas and returns a Normalizer.
func New(opts Options) (*Normalizer, error) {
	schemas, err := LoadSchemas(opts.SchemaDir)
	if err != nil {
		return nil, err
	}
	n := &Normalizer{
		schemas:   schemas,
		threshold: opts.MatchThreshold,
		noData:    opts.NoDataMessages,
	}
	if n.threshold <= 0 || n.threshold > 1 {
		n.threshold = DefaultMatchThreshold
	}
	if len(n.noData) == 0 {
		n.noData = DefaultNoDataMessages
	}
	return n, nil
}

// Schema returns the schema used for a report.
func (n *Normalizer) Schema(report model.ReportType) (*Schema, bool) {
	s, ok := n.schemas[report]
	return s, ok
}

// extraction is what one table yielded for a schema.
type extraction struct {
	records []model.Record
	matched int
}

// Normalize extracts the page's records. A page showing a no-data notice and
// no matching table yields no records and no error. A page whose best table
// matches fewer than the threshold share of fields fails with
// ErrUnrecognizedLayout.
func (n *Normalizer) Normalize(page model.Page) ([]model.Record, error) {
	schema, ok := n.schemas[page.Report]
	if !ok {
		return nil, eris.Errorf("normalize: no schema for report %q", page.Report)
	}

	doc, err := parseDocument(page.HTML)
	if err != nil {
		return nil, resilience.Mark(resilience.KindUnrecognizedLayout, err)
	}

	fallback, hasFallback := ParsePeriod(doc.text)

	var best extraction
	for _, g := range doc.tables {
		var ex extraction
		switch schema.Layout {
		case LayoutFieldColumns:
			ex = extractColumns(schema, g, page, fallback, hasFallback)
		case LayoutFieldRows:
			ex = extractRows(schema, g, page, fallback, hasFallback)
		case LayoutFieldPairs:
			ex = extractPairs(schema, g, page)
		}
		if ex.matched > best.matched {
			best = ex
		}
	}

	threshold := n.threshold
	if schema.MatchThreshold > 0 {
		threshold = schema.MatchThreshold
	}
	rate := float64(best.matched) / float64(len(schema.Fields))

	if best.matched == 0 || rate < threshold {
		if n.hasNoData(page.HTML) {
			zap.L().Debug("normalize: no-data page",
				zap.String("stock_id", page.StockID.String()),
				zap.String("report", string(page.Report)),
			)
			return nil, nil
		}
		return nil, resilience.Mark(resilience.KindUnrecognizedLayout, eris.Errorf(
			"normalize: %s for %s: matched %d of %d fields across %d tables",
			page.Report, page.StockID, best.matched, len(schema.Fields), len(doc.tables),
		))
	}

	records := model.DedupeRecords(best.records)
	zap.L().Debug("normalize: extracted records",
		zap.String("stock_id", page.StockID.String()),
		zap.String("report", string(page.Report)),
		zap.Int("records", len(records)),
		zap.Float64("match_rate", rate),
	)
	return records, nil
}

func (n *Normalizer) hasNoData(html string) bool {
	for _, msg := range n.noData {
		if strings.Contains(html, msg) {
			return true
		}
	}
	return false
}

func coerce(kind model.ValueKind, raw string) model.Value {
	if kind == model.KindText {
		return CoerceText(raw)
	}
	return CoerceNumeric(raw)
}

func newRecord(page model.Page, f FieldSpec, p model.FiscalPeriod, raw string) model.Record {
	if f.Period != "" {
		p = p.WithType(f.Period)
	}
	return model.Record{
		StockID: page.StockID,
		Report:  page.Report,
		Period:  p,
		Field:   f.Name,
		Value:   coerce(f.Kind, raw),
	}
}

// extractColumns handles tables with a header row of field names and one
// data row per period. The header may be split over two rows, in which case
// the parent and child labels are matched together.
func extractColumns(s *Schema, g Grid, page model.Page, fallback model.FiscalPeriod, hasFallback bool) extraction {
	headerRow, periodCol := -1, -1
	var fieldCols map[int]int
	bestHits := 0

	for r := range g {
		cols := make(map[int]int)
		taken := make(map[int]bool)
		pcol := -1
		for c := range g[r] {
			child := NormalizeLabel(g[r][c])
			fi := -1
			if r > 0 {
				if parent := NormalizeLabel(g[r-1][c]); parent != "" && parent != child {
					fi = s.match(parent + child)
				}
			}
			if fi < 0 {
				fi = s.match(child)
			}
			if fi >= 0 && !taken[fi] {
				cols[c] = fi
				taken[fi] = true
				continue
			}
			if pcol < 0 && s.isPeriodColumn(child) {
				pcol = c
			}
		}
		if len(taken) > bestHits {
			bestHits = len(taken)
			headerRow, periodCol, fieldCols = r, pcol, cols
		}
	}
	if headerRow < 0 {
		return extraction{}
	}

	order := sortedKeys(fieldCols)
	var records []model.Record
	for r := headerRow + 1; r < len(g); r++ {
		var (
			p  model.FiscalPeriod
			ok bool
		)
		if periodCol >= 0 {
			p, ok = ParsePeriod(g[r][periodCol])
		} else {
			p, ok = fallback, hasFallback
		}
		if !ok {
			continue
		}
		for _, c := range order {
			records = append(records, newRecord(page, s.Fields[fieldCols[c]], p, g.Cell(r, c)))
		}
	}
	return extraction{records: records, matched: bestHits}
}

// extractRows handles tables with field labels in the first column and
// periods across a header row. Without a period header the page-level period
// applies to the first value column.
func extractRows(s *Schema, g Grid, page model.Page, fallback model.FiscalPeriod, hasFallback bool) extraction {
	type periodCol struct {
		col    int
		period model.FiscalPeriod
	}
	var cols []periodCol
	headerRow := -1
	for r := range g {
		for c := 1; c < len(g[r]); c++ {
			if p, ok := ParsePeriod(g[r][c]); ok {
				cols = append(cols, periodCol{c, p})
			}
		}
		if len(cols) > 0 {
			headerRow = r
			break
		}
	}
	if len(cols) == 0 {
		if !hasFallback {
			return extraction{}
		}
		cols = []periodCol{{1, fallback}}
	}

	matched := make(map[int]bool)
	var records []model.Record
	for r := headerRow + 1; r < len(g); r++ {
		fi := s.match(NormalizeLabel(g[r][0]))
		if fi < 0 {
			continue
		}
		matched[fi] = true
		for _, pc := range cols {
			records = append(records, newRecord(page, s.Fields[fi], pc.period, g.Cell(r, pc.col)))
		}
	}
	return extraction{records: records, matched: len(matched)}
}

// extractPairs handles label/value layouts, reading pairs both across rows
// and down columns and keeping whichever orientation matches more fields.
func extractPairs(s *Schema, g Grid, page model.Page) extraction {
	across := pairRecords(s, page, func(yield func(label, value string)) {
		for _, row := range g {
			for c := 0; c+1 < len(row); c++ {
				v := c + 1
				for v < len(row) && row[v] == row[c] {
					v++
				}
				if v < len(row) && s.match(NormalizeLabel(row[c])) >= 0 {
					yield(row[c], row[v])
					c = v
				}
			}
		}
	})
	down := pairRecords(s, page, func(yield func(label, value string)) {
		for r := 0; r+1 < len(g); r++ {
			for c := range g[r] {
				yield(g[r][c], g.Cell(r+1, c))
			}
		}
	})
	if down.matched > across.matched {
		return down
	}
	return across
}

func pairRecords(s *Schema, page model.Page, walk func(yield func(label, value string))) extraction {
	found := make(map[int]bool)
	var records []model.Record
	walk(func(label, value string) {
		fi := s.match(NormalizeLabel(label))
		if fi < 0 || found[fi] || label == value {
			return
		}
		// A label next to another label is a layout artefact, not a value.
		if s.match(NormalizeLabel(value)) >= 0 {
			return
		}
		found[fi] = true
		records = append(records, newRecord(page, s.Fields[fi], model.Snapshot(), value))
	})
	return extraction{records: records, matched: len(found)}
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
