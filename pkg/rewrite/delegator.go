package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reqforge/reqforge/pkg/cache"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/pool"
)

// Scorer re-validates a rewritten text. Satisfied by validation.Scorer.
type Scorer interface {
	Score(ctx context.Context, text string, criteriaKeys []string, threshold float64) (*models.EvaluationRecord, error)
}

// ProgressFunc receives batch progress as rewrites complete.
type ProgressFunc func(completed, total int, msg string)

// Delegator runs the rewrite loop for a batch of failed requirements.
// Attempts within one requirement are sequential; requirements run in
// parallel up to the configured concurrency. Re-validation holds its own
// semaphore so re-scoring cannot starve the rewrite pool.
type Delegator struct {
	chat      llm.ChatClient
	scorer    Scorer
	artifacts *cache.ArtifactCache
	cfg       *config.RewriteConfig
	revalSem  *semaphore.Weighted
	logger    *slog.Logger
}

// NewDelegator creates a rewrite delegator. scorer may be nil when
// revalidation is disabled; artifacts may be nil to skip persistence.
func NewDelegator(chat llm.ChatClient, scorer Scorer, artifacts *cache.ArtifactCache, cfg *config.RewriteConfig, logger *slog.Logger) *Delegator {
	if cfg == nil {
		cfg = config.DefaultRewriteConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	permits := cfg.RevalidationPermits
	if permits < 1 {
		permits = 1
	}
	return &Delegator{
		chat:      chat,
		scorer:    scorer,
		artifacts: artifacts,
		cfg:       cfg,
		revalSem:  semaphore.NewWeighted(int64(permits)),
		logger:    logger.With("component", "rewrite_delegator"),
	}
}

// Rewrite processes every failed requirement in parallel and aggregates
// the outcomes. progress may be nil.
func (d *Delegator) Rewrite(ctx context.Context, failed []models.RequirementWithEvaluation, progress ProgressFunc) *models.BatchRewriteResult {
	start := time.Now()
	batch := &models.BatchRewriteResult{Total: len(failed), Results: make([]models.RewriteResult, len(failed))}
	if len(failed) == 0 {
		return batch
	}

	var poolProgress pool.Progress
	if progress != nil {
		poolProgress = func(completed, total, _ int, msg string) {
			progress(completed, total, msg)
		}
	}

	results := pool.Run(ctx, failed,
		func(taskCtx context.Context, item models.RequirementWithEvaluation) (models.RewriteResult, error) {
			return d.rewriteOne(taskCtx, item)
		},
		d.cfg.MaxConcurrent, 0, poolProgress)

	for i, r := range results {
		if r.Err != nil {
			batch.Results[i] = models.RewriteResult{
				ReqID:        failed[i].ReqID,
				OriginalText: failed[i].Text,
				Error:        r.Err.Error(),
			}
			batch.ErrorCount++
			continue
		}
		batch.Results[i] = r.Value
		if r.Value.Error != "" {
			batch.ErrorCount++
		} else if r.Value.RewrittenText != "" && r.Value.RewrittenText != failed[i].Text {
			batch.Improved++
		} else {
			batch.Unchanged++
		}
	}

	batch.TotalTimeMs = time.Since(start).Milliseconds()
	d.logger.Info("rewrite batch complete",
		"total", batch.Total, "improved", batch.Improved,
		"unchanged", batch.Unchanged, "errors", batch.ErrorCount,
		"elapsed_ms", batch.TotalTimeMs)
	return batch
}

// rewriteOne runs the sequential attempt loop for a single requirement.
func (d *Delegator) rewriteOne(ctx context.Context, item models.RequirementWithEvaluation) (models.RewriteResult, error) {
	current := item.Text
	feedback := failingCriteria(item.Evaluation)
	if len(feedback) == 0 {
		// Nothing failed; nothing to address.
		return models.RewriteResult{
			ReqID:              item.ReqID,
			OriginalText:       item.Text,
			RewrittenText:      item.Text,
			Attempt:            0,
			ImprovementSummary: "no failing criteria",
		}, nil
	}

	best := models.RewriteResult{ReqID: item.ReqID, OriginalText: item.Text, NewScore: item.Score}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		rewritten, err := d.callModel(ctx, current, feedback)
		if err != nil {
			if best.RewrittenText != "" {
				best.ImprovementSummary = fmt.Sprintf("kept best of %d attempts after error: %v", attempt-1, err)
				return best, nil
			}
			return models.RewriteResult{}, fmt.Errorf("rewrite attempt %d: %w", attempt, err)
		}

		addressed := criteriaKeys(feedback)
		result := models.RewriteResult{
			ReqID:             item.ReqID,
			OriginalText:      item.Text,
			RewrittenText:     rewritten,
			AddressedCriteria: addressed,
			Attempt:           attempt,
		}

		if !d.cfg.EnableRevalidation || d.scorer == nil {
			result.ImprovementSummary = "rewritten without revalidation"
			d.persist(ctx, result)
			return result, nil
		}

		record, err := d.revalidate(ctx, rewritten)
		if err != nil {
			result.Error = fmt.Sprintf("revalidation failed: %v", err)
			return result, nil
		}
		result.NewScore = record.Evaluation.Score

		if result.NewScore > best.NewScore || best.RewrittenText == "" {
			best = result
		}
		if result.NewScore >= d.cfg.TargetScore {
			result.ImprovementSummary = fmt.Sprintf("target reached on attempt %d", attempt)
			d.persist(ctx, result)
			return result, nil
		}

		// Loop with the rewrite as the new original and the fresh feedback.
		current = rewritten
		feedback = failingCriteria(record.Details)
		if len(feedback) == 0 {
			// Everything passes individually yet the aggregate missed the
			// target; further attempts would chase the same feedback.
			break
		}
	}

	best.ImprovementSummary = fmt.Sprintf("best of %d attempts, target %.2f not reached (score %.2f)",
		d.cfg.MaxAttempts, d.cfg.TargetScore, best.NewScore)
	d.persist(ctx, best)
	return best, nil
}

// callModel asks for one rewrite with a bounded per-call deadline.
func (d *Delegator) callModel(ctx context.Context, text string, failing []models.CriterionScore) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var prompt strings.Builder
	prompt.WriteString("Rewrite this requirement so it passes the failing criteria.\n\n")
	fmt.Fprintf(&prompt, "Requirement:\n%s\n\nFailing criteria:\n", text)
	for _, f := range failing {
		fmt.Fprintf(&prompt, "- %s: %s (%s)\n", f.CriterionKey, f.Feedback, HintFor(f.CriterionKey))
	}
	prompt.WriteString("\n" + requirementTemplate + "\n\nRespond with the rewritten requirement only, no commentary.")

	completion, err := d.chat.Complete(callCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a requirements engineer. You produce a single improved requirement statement."},
		{Role: llm.RoleUser, Content: prompt.String()},
	}, llm.CompleteOptions{Temperature: 0.3})
	if err != nil {
		return "", err
	}

	rewritten := strings.TrimSpace(stripFences(completion.Content))
	if rewritten == "" {
		return "", fmt.Errorf("model returned an empty rewrite")
	}
	return rewritten, nil
}

// revalidate re-scores a rewrite under the revalidation semaphore.
func (d *Delegator) revalidate(ctx context.Context, text string) (*models.EvaluationRecord, error) {
	if err := d.revalSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.revalSem.Release(1)
	return d.scorer.Score(ctx, text, nil, d.cfg.TargetScore)
}

// persist records a completed rewrite; failures are logged, the result
// still flows back to the caller.
func (d *Delegator) persist(ctx context.Context, result models.RewriteResult) {
	if d.artifacts == nil || result.RewrittenText == "" {
		return
	}
	err := d.artifacts.Put(ctx, &cache.Record{
		Scope:    cache.ScopeRewrite,
		Checksum: models.Checksum(result.OriginalText),
		Rewrite: &models.RewrittenRequirement{
			ReqID:               result.ReqID,
			RequirementChecksum: models.Checksum(result.OriginalText),
			OriginalText:        result.OriginalText,
			RewrittenText:       result.RewrittenText,
			AddressedCriteria:   strings.Join(result.AddressedCriteria, ","),
			Attempt:             result.Attempt,
			NewScore:            result.NewScore,
		},
	})
	if err != nil {
		d.logger.Warn("failed to persist rewrite", "req_id", result.ReqID, "error", err)
	}
}

func failingCriteria(scores []models.CriterionScore) []models.CriterionScore {
	var failing []models.CriterionScore
	for _, s := range scores {
		if !s.Passed {
			failing = append(failing, s)
		}
	}
	return failing
}

func criteriaKeys(scores []models.CriterionScore) []string {
	keys := make([]string, 0, len(scores))
	for _, s := range scores {
		keys = append(keys, s.CriterionKey)
	}
	return keys
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
