// Package pipeline runs one identifier through every report stage and a
// batch of identifiers through the pipeline.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/browser"
	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/navigator"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

// Walker visits an identifier's stages. *navigator.Navigator satisfies it.
type Walker interface {
	Run(ctx context.Context, id model.Identifier, handler navigator.Handler) (navigator.Result, error)
}

// Normalizer turns a rendered page into records.
type Normalizer interface {
	Normalize(page model.Page) ([]model.Record, error)
}

// Writer persists records. *persist.Persister satisfies it.
type Writer interface {
	Persist(ctx context.Context, id model.Identifier, report model.ReportType, records []model.Record) (int64, error)
	RebuildCombined(ctx context.Context, id model.Identifier) (int64, error)
}

// Filings retrieves documents for a page. *filing.Retriever satisfies it.
type Filings interface {
	Retrieve(ctx context.Context, page model.Page, selector string) ([]model.Filing, error)
	Snapshot(ctx context.Context, page model.Page, printPDF func(ctx context.Context) ([]byte, error)) (model.Filing, error)
}

// Session is the browser session shared by all stages.
type Session interface {
	Do(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error
	ResetRestarts()
}

// Pipeline processes one identifier at a time.
type Pipeline struct {
	session Session
	walker  Walker
	norm    Normalizer
	writer  Writer
	filings Filings
}

// New creates a Pipeline. filings may be nil to skip document retrieval.
func New(session Session, walker Walker, norm Normalizer, writer Writer, filings Filings) *Pipeline {
	return &Pipeline{session: session, walker: walker, norm: norm, writer: writer, filings: filings}
}

// Process runs every stage for id and returns its outcome. The error is
// non-nil only when the batch must stop: the browser session is gone or ctx
// was cancelled. Every other failure is reported in the outcome.
func (p *Pipeline) Process(ctx context.Context, id model.Identifier) (model.Outcome, error) {
	start := time.Now()
	log := zap.L().With(zap.String("stock_id", id.String()))
	log.Info("pipeline: starting identifier")

	p.session.ResetRestarts()

	out := model.Outcome{StockID: id}
	handler := func(ctx context.Context, res navigator.StageResult) error {
		so, err := p.handleStage(ctx, id, res)
		out.Stages = append(out.Stages, so)
		return err
	}

	result, err := p.walker.Run(ctx, id, handler)
	out.Resolve()
	out.Duration = time.Since(start)

	if err != nil {
		out.Status = model.OutcomeFailed
		if out.FailedStage == "" {
			out.FailedStage = result.FailedStage
		}
		out.ErrKind = string(resilience.KindOf(err))
		out.Error = err.Error()
		return out, err
	}

	if result.Final == navigator.StateDone && out.Status == model.OutcomeSucceeded {
		if _, err := p.writer.RebuildCombined(ctx, id); err != nil {
			log.Error("pipeline: combined rebuild failed", zap.Error(err))
			out.Status = model.OutcomeFailed
			out.ErrKind = string(resilience.KindOf(err))
			out.Error = err.Error()
		} else {
			out.Combined = true
		}
	} else {
		log.Info("pipeline: combined rebuild skipped", zap.String("status", string(out.Status)))
	}

	out.Duration = time.Since(start)
	return out, nil
}

// handleStage normalizes, persists and retrieves filings for one stage. The
// returned error only informs the navigator; the stage outcome carries the
// failure.
func (p *Pipeline) handleStage(ctx context.Context, id model.Identifier, res navigator.StageResult) (model.StageOutcome, error) {
	so := model.StageOutcome{Report: res.Report, Status: res.Status}
	log := zap.L().With(zap.String("stock_id", id.String()), zap.String("stage", string(res.Report)))

	switch res.Status {
	case model.StageFailed:
		so.ErrKind = string(resilience.KindOf(res.Err))
		so.Error = errString(res.Err)
		return so, nil
	case model.StageEmpty:
		log.Info("pipeline: stage has no data")
		return so, nil
	}

	records, err := p.norm.Normalize(res.Page)
	if err != nil {
		return failStage(so, log, err), err
	}
	so.Records = len(records)

	if len(records) == 0 {
		so.Status = model.StageEmpty
		log.Info("pipeline: stage has no data")
	} else {
		n, err := p.writer.Persist(ctx, id, res.Report, records)
		if err != nil {
			return failStage(so, log, err), err
		}
		so.Rows = int(n)
	}

	p.retrieveFilings(ctx, res, &so, log)

	log.Info("pipeline: stage complete",
		zap.String("status", string(so.Status)),
		zap.Int("records", so.Records),
		zap.Int("rows", so.Rows),
		zap.Int("filings", so.Filings),
	)
	return so, nil
}

// retrieveFilings downloads linked documents and the page snapshot. Failures
// are noted on the stage without failing it.
func (p *Pipeline) retrieveFilings(ctx context.Context, res navigator.StageResult, so *model.StageOutcome, log *zap.Logger) {
	if p.filings == nil || so.Status != model.StageReady {
		return
	}

	var errs []error
	tally := func(fs ...model.Filing) {
		for _, f := range fs {
			if f.Skipped {
				so.Skipped++
			} else {
				so.Filings++
			}
		}
	}

	if res.Stage.PDFLinks != "" {
		fs, err := p.filings.Retrieve(ctx, res.Page, res.Stage.PDFLinks)
		tally(fs...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if res.Stage.SnapshotPDF {
		f, err := p.filings.Snapshot(ctx, res.Page, p.printPDF)
		if err != nil {
			errs = append(errs, err)
		} else {
			tally(f)
		}
	}

	if len(errs) > 0 {
		err := eris.Errorf("%d filing error(s): %v", len(errs), errs[0])
		so.FilingErr = err.Error()
		log.Warn("pipeline: filing retrieval incomplete",
			zap.String("error_kind", string(resilience.KindDownloadFailed)),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) printPDF(ctx context.Context) ([]byte, error) {
	var data []byte
	err := p.session.Do(ctx, func(ctx context.Context, page browser.Page) error {
		b, err := page.PrintPDF(ctx)
		data = b
		return err
	})
	return data, err
}

func failStage(so model.StageOutcome, log *zap.Logger, err error) model.StageOutcome {
	so.Status = model.StageFailed
	so.ErrKind = string(resilience.KindOf(err))
	so.Error = err.Error()
	log.Warn("pipeline: stage failed", zap.String("error_kind", so.ErrKind), zap.Error(err))
	return so
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
