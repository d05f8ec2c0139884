package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/cache"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

// memRepo is an in-memory stand-in for the store across all service tests.
type memRepo struct {
	criteria    []models.Criterion
	evals       map[string][]models.EvaluationRecord // checksum → history, oldest first
	suggestions map[string][]models.Suggestion
	rewrites    map[string]*models.RewrittenRequirement
}

func newMemRepo() *memRepo {
	return &memRepo{
		evals:       make(map[string][]models.EvaluationRecord),
		suggestions: make(map[string][]models.Suggestion),
		rewrites:    make(map[string]*models.RewrittenRequirement),
	}
}

func (r *memRepo) ListCriteria(context.Context) ([]models.Criterion, error) { return r.criteria, nil }

func (r *memRepo) LoadCriteria(context.Context) (map[string]float64, error) {
	weights := make(map[string]float64, len(r.criteria))
	for _, c := range r.criteria {
		w := c.Weight
		if w <= 0 {
			w = 1.0
		}
		weights[c.Key] = w
	}
	return weights, nil
}

func (r *memRepo) SeedDefaultCriteria(context.Context) (int, error) {
	if len(r.criteria) > 0 {
		return 0, nil
	}
	r.criteria = store.DefaultCriteria()
	return len(r.criteria), nil
}

func (r *memRepo) LatestEvaluationByChecksum(_ context.Context, checksum string) (*models.EvaluationRecord, error) {
	history := r.evals[checksum]
	if len(history) == 0 {
		return nil, fmt.Errorf("evaluation for checksum %s: %w", checksum, store.ErrNotFound)
	}
	rec := history[len(history)-1]
	return &rec, nil
}

func (r *memRepo) SaveEvaluation(_ context.Context, eval models.Evaluation, details []models.CriterionScore) error {
	r.evals[eval.RequirementChecksum] = append(r.evals[eval.RequirementChecksum],
		models.EvaluationRecord{Evaluation: eval, Details: details})
	return nil
}

func (r *memRepo) EvaluationHistory(_ context.Context, checksum string, limit int) ([]models.Evaluation, error) {
	history := r.evals[checksum]
	out := make([]models.Evaluation, 0, len(history))
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i].Evaluation)
	}
	return out, nil
}

func (r *memRepo) LatestRewriteByChecksum(_ context.Context, checksum string) (*models.RewrittenRequirement, error) {
	rw, ok := r.rewrites[checksum]
	if !ok {
		return nil, fmt.Errorf("rewrite for checksum %s: %w", checksum, store.ErrNotFound)
	}
	return rw, nil
}

func (r *memRepo) SaveRewrite(_ context.Context, rw *models.RewrittenRequirement) error {
	r.rewrites[rw.RequirementChecksum] = rw
	return nil
}

func (r *memRepo) ReplaceSuggestions(_ context.Context, checksum string, items []models.Suggestion) error {
	r.suggestions[checksum] = items
	return nil
}

func (r *memRepo) SuggestionsByChecksum(_ context.Context, checksum string) ([]models.Suggestion, error) {
	return r.suggestions[checksum], nil
}

func TestCriteriaServiceSeedAndList(t *testing.T) {
	repo := newMemRepo()
	svc := NewCriteriaService(repo)
	ctx := context.Background()

	inserted, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, inserted)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 10)

	weights, err := svc.Weights(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weights["clarity"], 1e-9)
}

func TestEvaluationServiceLatestForText(t *testing.T) {
	repo := newMemRepo()
	artifacts := cache.NewArtifactCache(repo, time.Minute, nil)
	svc := NewEvaluationService(repo, artifacts)
	ctx := context.Background()

	text := "  The system shall respond within 200ms. "
	eval := models.Evaluation{
		EvaluationID:        "eval-1",
		RequirementChecksum: models.Checksum(text),
		RequirementText:     text,
		Score:               0.8,
		Verdict:             models.VerdictPass,
	}
	require.NoError(t, svc.Record(ctx, eval, []models.CriterionScore{{CriterionKey: "clarity", Score: 0.8, Passed: true}}))

	// Lookup is whitespace-insensitive through the shared checksum.
	got, err := svc.LatestForText(ctx, "The system shall respond within 200ms.")
	require.NoError(t, err)
	assert.Equal(t, "eval-1", got.Evaluation.EvaluationID)
	require.Len(t, got.Details, 1)
}

func TestEvaluationServiceNotFound(t *testing.T) {
	repo := newMemRepo()
	svc := NewEvaluationService(repo, cache.NewArtifactCache(repo, time.Minute, nil))

	_, err := svc.LatestForText(context.Background(), "never scored")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.LatestForText(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEvaluationServiceHistoryNewestFirst(t *testing.T) {
	repo := newMemRepo()
	artifacts := cache.NewArtifactCache(repo, time.Minute, nil)
	svc := NewEvaluationService(repo, artifacts)
	ctx := context.Background()

	text := "The system shall export logs."
	for i, score := range []float64{0.4, 0.9} {
		eval := models.Evaluation{
			EvaluationID:        fmt.Sprintf("eval-%d", i),
			RequirementChecksum: models.Checksum(text),
			RequirementText:     text,
			Score:               score,
		}
		require.NoError(t, svc.Record(ctx, eval, nil))
	}

	history, err := svc.HistoryForText(ctx, text, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "eval-1", history[0].EvaluationID)
	assert.Equal(t, "eval-0", history[1].EvaluationID)
}

func TestSuggestionServiceRoundTrip(t *testing.T) {
	repo := newMemRepo()
	svc := NewSuggestionService(repo)
	ctx := context.Background()

	text := "The system shall log in users and lock accounts."
	require.NoError(t, svc.Replace(ctx, text, []models.Suggestion{
		{Text: "The system shall log in users."},
		{Text: "The system shall lock accounts after 5 failed attempts."},
	}))

	got, err := svc.ForText(ctx, text)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.ForText(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidationErrorHelpers(t *testing.T) {
	err := NewValidationError("title", "must not be empty")
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "title")
	assert.False(t, IsValidationError(ErrNotFound))
}
