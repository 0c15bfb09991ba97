// Package persist turns normalized records into table rows and writes them
// through the store.
package persist

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/resilience"
	"github.com/sells-group/twstock-cli/internal/store"
)

// Persister writes one report's records per call.
type Persister struct {
	store store.Store
	retry resilience.RetryConfig
}

// New creates a Persister. Writes are retried on transient errors per retry.
func New(s store.Store, retry resilience.RetryConfig) *Persister {
	return &Persister{store: s, retry: retry}
}

// Persist upserts the records of one report for one identifier. The write is
// not interrupted by ctx cancellation once started, so a shutdown never
// leaves a table half written. Failures are marked PersistenceFailure.
func (p *Persister) Persist(ctx context.Context, id model.Identifier, report model.ReportType, records []model.Record) (int64, error) {
	t, ok := store.TableFor(report)
	if !ok {
		return 0, resilience.Mark(resilience.KindPersistenceFailure, eris.Errorf("persist: no table for report %q", report))
	}

	rows := Pivot(t, id, records)
	if len(rows) == 0 {
		return 0, nil
	}

	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("persist", "upsert",
		zap.String("stock_id", id.String()),
		zap.String("table", t.Name),
	)

	n, err := resilience.DoVal(context.WithoutCancel(ctx), cfg, func(ctx context.Context) (int64, error) {
		return p.store.Upsert(ctx, t, rows)
	})
	if err != nil {
		return 0, resilience.Mark(resilience.KindPersistenceFailure,
			eris.Wrapf(err, "persist: %s for %s", t.Name, id))
	}

	zap.L().Debug("persist: upserted",
		zap.String("stock_id", id.String()),
		zap.String("table", t.Name),
		zap.Int("rows", len(rows)),
	)
	return n, nil
}

// RebuildCombined re-derives the identifier's combined rows.
func (p *Persister) RebuildCombined(ctx context.Context, id model.Identifier) (int64, error) {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("persist", "rebuild_combined", zap.String("stock_id", id.String()))

	n, err := resilience.DoVal(context.WithoutCancel(ctx), cfg, func(ctx context.Context) (int64, error) {
		return p.store.RebuildCombined(ctx, id)
	})
	if err != nil {
		return 0, resilience.Mark(resilience.KindPersistenceFailure,
			eris.Wrapf(err, "persist: rebuild combined for %s", id))
	}
	return n, nil
}

// Pivot groups records into one row per natural key of t, in order of first
// appearance. Each row holds t.AllColumns(); fields the table does not know,
// and records whose period cannot fill the key, are dropped.
func Pivot(t store.Table, id model.Identifier, records []model.Record) [][]any {
	index := make(map[string]int)
	var rows [][]any

	for _, r := range records {
		col := columnIndex(t, r.Field)
		if col < 0 {
			zap.L().Debug("persist: ignoring unknown field",
				zap.String("table", t.Name),
				zap.String("field", r.Field),
			)
			continue
		}
		key, ok := keyValues(t, id, r.Period)
		if !ok {
			zap.L().Debug("persist: record period does not fit table key",
				zap.String("table", t.Name),
				zap.String("record", r.String()),
			)
			continue
		}

		k := rowKey(key)
		i, seen := index[k]
		if !seen {
			row := make([]any, len(t.Keys)+len(t.Columns))
			copy(row, key)
			rows = append(rows, row)
			i = len(rows) - 1
			index[k] = i
		}
		if row := rows[i]; row[len(t.Keys)+col] == nil {
			row[len(t.Keys)+col] = r.Value.SQLArg()
		}
	}
	return rows
}

func columnIndex(t store.Table, field string) int {
	for i, c := range t.Columns {
		if c == field {
			return i
		}
	}
	return -1
}

// keyValues fills t's key columns from the identifier and period.
func keyValues(t store.Table, id model.Identifier, p model.FiscalPeriod) ([]any, bool) {
	out := make([]any, len(t.Keys))
	for i, k := range t.Keys {
		switch k {
		case "company_id":
			out[i] = id.String()
		case "year":
			if p.Year == 0 {
				return nil, false
			}
			out[i] = p.Year
		case "quarter":
			if p.Type != model.PeriodQuarterly && p.Type != model.PeriodAnnual {
				return nil, false
			}
			out[i] = p.Quarter
		case "month":
			if p.Month < 1 || p.Month > 12 {
				return nil, false
			}
			out[i] = p.Month
		case "revenue_type":
			if p.Type != model.PeriodMonthly && p.Type != model.PeriodCumulative {
				return nil, false
			}
			out[i] = string(p.Type)
		default:
			return nil, false
		}
	}
	return out, true
}

func rowKey(key []any) string {
	return fmt.Sprintln(key...)
}
