package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/browser"
	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/navigator"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// --- Normalizer Mock ---

type mockNormalizer struct {
	mock.Mock
}

func (m *mockNormalizer) Normalize(page model.Page) ([]model.Record, error) {
	args := m.Called(page.Report)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Record), args.Error(1)
}

// --- Writer Mock ---

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Persist(ctx context.Context, id model.Identifier, report model.ReportType, records []model.Record) (int64, error) {
	args := m.Called(id, report, len(records))
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockWriter) RebuildCombined(ctx context.Context, id model.Identifier) (int64, error) {
	args := m.Called(id)
	return args.Get(0).(int64), args.Error(1)
}

// --- Filings Mock ---

type mockFilings struct {
	mock.Mock
}

func (m *mockFilings) Retrieve(ctx context.Context, page model.Page, selector string) ([]model.Filing, error) {
	args := m.Called(page.Report, selector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Filing), args.Error(1)
}

func (m *mockFilings) Snapshot(ctx context.Context, page model.Page, printPDF func(ctx context.Context) ([]byte, error)) (model.Filing, error) {
	if _, err := printPDF(ctx); err != nil {
		return model.Filing{}, err
	}
	args := m.Called(page.Report)
	return args.Get(0).(model.Filing), args.Error(1)
}

// --- Session fake ---

type printPage struct{}

func (printPage) Navigate(context.Context, string) error     { return nil }
func (printPage) Fill(context.Context, string, string) error { return nil }
func (printPage) Click(context.Context, string) error        { return nil }
func (printPage) HTML(context.Context) (string, error)       { return "", nil }
func (printPage) PrintPDF(context.Context) ([]byte, error)   { return []byte("%PDF-1.4"), nil }

type fakeSession struct {
	resets int
	prints int
}

func (s *fakeSession) Do(ctx context.Context, fn func(context.Context, browser.Page) error) error {
	s.prints++
	return fn(ctx, printPage{})
}

func (s *fakeSession) ResetRestarts() { s.resets++ }

// --- Walker fake ---

// scriptedWalker replays stage results per identifier with the navigator's
// rules: a failed stage ends the walk, a fatal handler error propagates.
type scriptedWalker struct {
	stages map[model.Identifier][]navigator.StageResult
	errs   map[model.Identifier]error
}

func (w *scriptedWalker) Run(ctx context.Context, id model.Identifier, h navigator.Handler) (navigator.Result, error) {
	for _, st := range w.stages[id] {
		if herr := h(ctx, st); herr != nil && resilience.IsFatal(herr) {
			return navigator.Result{Final: navigator.StateFailed, FailedStage: st.Report, Err: herr}, herr
		}
		if st.Status == model.StageFailed {
			res := navigator.Result{Final: navigator.StateFailed, FailedStage: st.Report, Err: st.Err}
			if resilience.IsFatal(st.Err) {
				return res, st.Err
			}
			return res, nil
		}
	}
	if err := w.errs[id]; err != nil {
		return navigator.Result{Final: navigator.StateFailed}, err
	}
	return navigator.Result{Final: navigator.StateDone}, nil
}

func ready(id model.Identifier, r model.ReportType, stage navigator.Stage) navigator.StageResult {
	return navigator.StageResult{
		Report: r,
		Status: model.StageReady,
		Stage:  stage,
		Page:   model.Page{StockID: id, Report: r, URL: "https://mops.test/" + string(r), HTML: "<table></table>"},
	}
}

func empty(r model.ReportType) navigator.StageResult {
	return navigator.StageResult{Report: r, Status: model.StageEmpty}
}

// allReady scripts a full pass with every stage ready.
func allReady(id model.Identifier) []navigator.StageResult {
	out := make([]navigator.StageResult, 0, len(model.ReportTypes))
	for _, r := range model.ReportTypes {
		out = append(out, ready(id, r, navigator.Stage{}))
	}
	return out
}

func someRecords(r model.ReportType) []model.Record {
	return []model.Record{{Report: r, Field: "x"}, {Report: r, Field: "y"}}
}
