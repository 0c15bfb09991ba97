package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

// Processor handles a single identifier. *Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, id model.Identifier) (model.Outcome, error)
}

// RunnerConfig tunes the batch loop.
type RunnerConfig struct {
	// Delay is the pause between identifiers.
	Delay time.Duration
}

// Runner processes identifiers sequentially, isolating their failures.
type Runner struct {
	proc Processor
	pace *rate.Limiter
	now  func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(proc Processor, cfg RunnerConfig) *Runner {
	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.Delay > 0 {
		pace = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	return &Runner{proc: proc, pace: pace, now: time.Now}
}

// Run processes ids in order, skipping duplicates. One identifier's failure
// never stops the next; only a lost browser session aborts the batch, and
// that error is returned with the summary of what did finish. Cancelling ctx
// stops before the next identifier and marks the rest skipped.
func (r *Runner) Run(ctx context.Context, ids []model.Identifier) (*model.Summary, error) {
	ids = dedupe(ids)
	sum := &model.Summary{RunID: uuid.NewString(), StartedAt: r.now()}
	log := zap.L().With(zap.String("run_id", sum.RunID))
	log.Info("batch: starting", zap.Int("identifiers", len(ids)))

	defer func() {
		sum.Duration = r.now().Sub(sum.StartedAt)
		LogSummary(log, sum)
	}()

	for i, id := range ids {
		if err := r.pace.Wait(ctx); err != nil {
			sum.Aborted = true
			sum.Skipped = append(sum.Skipped, ids[i:]...)
			log.Warn("batch: cancelled", zap.Int("remaining", len(ids)-i))
			return sum, nil
		}
		if !id.Valid() {
			log.Warn("batch: identifier is not a four digit code, crawling anyway", zap.String("stock_id", id.String()))
		}

		out, err := r.proc.Process(ctx, id)
		sum.Add(out)
		logOutcome(log, out)

		if err == nil {
			continue
		}
		sum.Aborted = true
		sum.Skipped = append(sum.Skipped, ids[i+1:]...)
		if resilience.IsFatal(err) {
			log.Error("batch: aborting, browser session unavailable", zap.Error(err))
			return sum, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			log.Warn("batch: cancelled", zap.Int("remaining", len(ids)-i-1))
			return sum, nil
		}
		log.Error("batch: aborting", zap.Error(err))
		return sum, err
	}
	return sum, nil
}

func dedupe(ids []model.Identifier) []model.Identifier {
	seen := make(map[model.Identifier]bool, len(ids))
	out := make([]model.Identifier, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func logOutcome(log *zap.Logger, o model.Outcome) {
	fields := []zap.Field{
		zap.String("stock_id", o.StockID.String()),
		zap.String("status", string(o.Status)),
		zap.Duration("duration", o.Duration),
		zap.Bool("combined_rebuilt", o.Combined),
	}
	if o.Status != model.OutcomeFailed {
		log.Info("batch: identifier done", fields...)
		return
	}
	log.Warn("batch: identifier failed", append(fields,
		zap.String("failed_stage", string(o.FailedStage)),
		zap.String("error_kind", o.ErrKind),
		zap.String("error", o.Error),
	)...)
}

// LogSummary writes the end-of-run report.
func LogSummary(log *zap.Logger, s *model.Summary) {
	failed := make([]string, 0, len(s.Failed))
	for _, f := range s.Failed {
		failed = append(failed, f.StockID.String()+"@"+string(f.Stage)+":"+f.ErrKind)
	}
	log.Info("batch: summary",
		zap.Int("succeeded", len(s.Succeeded)),
		zap.Int("absent", len(s.Absent)),
		zap.Int("failed", len(s.Failed)),
		zap.Int("skipped", len(s.Skipped)),
		zap.Bool("aborted", s.Aborted),
		zap.Stringers("succeeded_ids", s.Succeeded),
		zap.Stringers("absent_ids", s.Absent),
		zap.Strings("failed_ids", failed),
		zap.Duration("duration", s.Duration),
	)
}
