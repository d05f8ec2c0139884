package validation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/pool"
)

// Item is one requirement text to score within a batch.
type Item struct {
	ID   string
	Text string
}

// ProgressFunc receives batch progress as items complete.
type ProgressFunc func(completed, total int, msg string)

// Delegator fans a validation batch out over the worker pool. One item's
// failure never stops its siblings; errors land in that item's result.
type Delegator struct {
	scorer *Scorer
	cfg    *config.ValidationConfig
	logger *slog.Logger
}

// NewDelegator creates a delegator around the scorer.
func NewDelegator(scorer *Scorer, cfg *config.ValidationConfig, logger *slog.Logger) *Delegator {
	if cfg == nil {
		cfg = config.DefaultValidationConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegator{scorer: scorer, cfg: cfg, logger: logger.With("component", "validation_delegator")}
}

// Validate scores every item in parallel, bounded by the configured
// concurrency and per-item timeout. criteriaKeys nil means the full
// rubric. progress may be nil.
func (d *Delegator) Validate(ctx context.Context, items []Item, criteriaKeys []string, progress ProgressFunc) *models.BatchResult {
	start := time.Now()
	batch := &models.BatchResult{Total: len(items), Results: make([]models.ItemResult, len(items))}
	if len(items) == 0 {
		return batch
	}

	var poolProgress pool.Progress
	if progress != nil {
		poolProgress = func(completed, total, _ int, msg string) {
			progress(completed, total, msg)
		}
	}

	results := pool.Run(ctx, items,
		func(taskCtx context.Context, item Item) (*models.EvaluationRecord, error) {
			return d.scorer.Score(taskCtx, item.Text, criteriaKeys, d.cfg.Threshold)
		},
		d.cfg.MaxConcurrent, d.cfg.Timeout, poolProgress)

	for i, r := range results {
		item := items[i]
		out := models.ItemResult{ID: item.ID, OriginalText: item.Text}
		switch {
		case r.Err != nil:
			out.Verdict = models.VerdictError
			out.Error = errorString(r.Err)
			batch.ErrorCount++
		default:
			rec := r.Value
			out.Score = rec.Evaluation.Score
			out.Verdict = rec.Evaluation.Verdict
			out.Evaluation = rec.Details
			if out.Verdict == models.VerdictPass {
				batch.Passed++
			} else {
				batch.Failed++
			}
		}
		batch.Results[i] = out
	}

	batch.TotalTimeMs = time.Since(start).Milliseconds()
	d.logger.Info("validation batch complete",
		"total", batch.Total, "passed", batch.Passed, "failed", batch.Failed,
		"errors", batch.ErrorCount, "elapsed_ms", batch.TotalTimeMs)
	return batch
}

// errorString names timeouts explicitly so clients can tell them apart
// from upstream failures.
func errorString(err error) string {
	if errors.Is(err, pool.ErrTaskTimeout) {
		return "timeout"
	}
	return err.Error()
}
