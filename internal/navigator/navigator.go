// Package navigator walks one company's report pages in a fixed order,
// waiting for each page to either show its result table or a no-data notice.
package navigator

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/twstock-cli/internal/browser"
	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

// Session runs work against the live browser page. *browser.Manager
// satisfies it.
type Session interface {
	Do(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error
}

// Config tunes readiness polling and stage retries.
type Config struct {
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
	StageAttempts int
	StageDelay    time.Duration
}

// StageResult is handed to the Handler once per visited stage.
type StageResult struct {
	Report model.ReportType
	Status model.StageStatus
	Stage  Stage
	Page   model.Page
	Err    error
}

// Handler consumes stage results. A fatal error stops the walk; other errors
// belong to the stage and the walk continues.
type Handler func(ctx context.Context, res StageResult) error

// Result is the end state of one identifier's walk.
type Result struct {
	Final       State
	FailedStage model.ReportType
	Err         error
}

// Navigator drives the stage state machine over a browser session.
type Navigator struct {
	session Session
	site    *Site
	cfg     Config
	pace    *rate.Limiter
	now     func() time.Time
}

// New creates a Navigator.
func New(session Session, site *Site, cfg Config) *Navigator {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 20 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StageAttempts <= 0 {
		cfg.StageAttempts = 1
	}

	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.StageDelay > 0 {
		pace = rate.NewLimiter(rate.Every(cfg.StageDelay), 1)
	}
	return &Navigator{session: session, site: site, cfg: cfg, pace: pace, now: time.Now}
}

// Run walks every stage for id, calling handler after each one. The returned
// error is non-nil only for fatal failures and cancellation; a navigation
// failure is reported in Result and ends the walk early.
func (n *Navigator) Run(ctx context.Context, id model.Identifier, handler Handler) (Result, error) {
	log := zap.L().With(zap.String("stock_id", id.String()))

	state, _ := next(StateStart, EventBegin)
	for !state.Terminal() {
		report, ok := state.Report()
		if !ok {
			return Result{Final: StateFailed}, eris.Errorf("navigator: no stage for state %s", state)
		}
		stage := n.site.Stages[report]

		if err := n.pace.Wait(ctx); err != nil {
			return Result{Final: StateFailed, FailedStage: report, Err: err}, eris.Wrap(err, "navigator: wait")
		}

		res, err := n.visit(ctx, id, report, stage)
		ev := EventReady
		switch {
		case err != nil:
			ev = EventFailed
			res = StageResult{Report: report, Status: model.StageFailed, Stage: stage, Err: err}
		case res.Status == model.StageEmpty:
			ev = EventEmpty
		}

		if herr := handler(ctx, res); herr != nil {
			if resilience.IsFatal(herr) {
				return Result{Final: StateFailed, FailedStage: report, Err: herr}, herr
			}
			log.Debug("navigator: stage handler error", zap.String("stage", string(report)), zap.Error(herr))
		}

		if err != nil {
			log.Warn("navigator: stage failed",
				zap.String("stage", string(report)),
				zap.String("error_kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
			result := Result{Final: StateFailed, FailedStage: report, Err: err}
			if resilience.IsFatal(err) || ctx.Err() != nil {
				return result, err
			}
			return result, nil
		}

		to, ok := next(state, ev)
		if !ok {
			return Result{Final: StateFailed, FailedStage: report}, eris.Errorf("navigator: no transition from %s on %s", state, ev)
		}
		state = to
	}
	return Result{Final: state}, nil
}

// visit loads one stage, retrying navigation timeouts and driver faults up to
// StageAttempts times.
func (n *Navigator) visit(ctx context.Context, id model.Identifier, report model.ReportType, stage Stage) (StageResult, error) {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.StageAttempts; attempt++ {
		res, err := n.attempt(ctx, id, report, stage)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if resilience.IsFatal(err) || ctx.Err() != nil {
			return StageResult{}, err
		}
		if attempt < n.cfg.StageAttempts {
			zap.L().Info("navigator: retrying stage",
				zap.String("stock_id", id.String()),
				zap.String("stage", string(report)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if err := sleep(ctx, n.cfg.StageDelay); err != nil {
				return StageResult{}, err
			}
		}
	}
	return StageResult{}, eris.Wrapf(lastErr, "navigator: stage %s failed after %d attempts", report, n.cfg.StageAttempts)
}

func (n *Navigator) attempt(ctx context.Context, id model.Identifier, report model.ReportType, stage Stage) (StageResult, error) {
	url := stage.URLFor(id)
	res := StageResult{Report: report, Stage: stage}

	err := n.session.Do(ctx, func(ctx context.Context, page browser.Page) error {
		if err := page.Navigate(ctx, url); err != nil {
			return err
		}
		if stage.Input != "" {
			if err := page.Fill(ctx, stage.Input, id.String()); err != nil {
				return err
			}
		}
		if stage.Submit != "" {
			if err := page.Click(ctx, stage.Submit); err != nil {
				return err
			}
		}

		status, html, err := n.waitReady(ctx, page, stage)
		if err != nil {
			return err
		}
		res.Status = status
		res.Page = model.Page{StockID: id, Report: report, URL: url, HTML: html, FetchedAt: n.now()}
		return nil
	})
	return res, err
}

// waitReady polls the page until the result table has a data row (ready), a
// no-data notice shows (empty), or ReadyTimeout passes (NavigationTimeout).
func (n *Navigator) waitReady(ctx context.Context, page browser.Page, stage Stage) (model.StageStatus, string, error) {
	readyCtx, cancel := context.WithTimeout(ctx, n.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		html, err := page.HTML(readyCtx)
		if err != nil {
			return "", "", err
		}
		if status, ok := n.inspect(html, stage); ok {
			return status, html, nil
		}

		select {
		case <-readyCtx.Done():
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			return "", "", resilience.Mark(resilience.KindNavigationTimeout,
				eris.Errorf("navigator: page not ready after %s", n.cfg.ReadyTimeout))
		case <-ticker.C:
		}
	}
}

// inspect classifies a page snapshot. ok is false while still loading.
func (n *Navigator) inspect(html string, stage Stage) (model.StageStatus, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	text := doc.Find("body").Text()
	for _, msg := range n.site.NoDataMessages {
		if strings.Contains(text, msg) {
			return model.StageEmpty, true
		}
	}
	if doc.Find(stage.Table).Find("tr td").Length() > 0 {
		return model.StageReady, true
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
