package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/pkg/cache"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

// EvaluationRepository is the slice of the store the evaluation service
// reads history from. Latest-row reads go through the ArtifactCache instead.
type EvaluationRepository interface {
	EvaluationHistory(ctx context.Context, checksum string, limit int) ([]models.Evaluation, error)
}

var _ EvaluationRepository = (*store.Store)(nil)

// EvaluationService manages stored requirement evaluations.
type EvaluationService struct {
	repo      EvaluationRepository
	artifacts *cache.ArtifactCache
}

// NewEvaluationService creates a new EvaluationService
func NewEvaluationService(repo EvaluationRepository, artifacts *cache.ArtifactCache) *EvaluationService {
	return &EvaluationService{repo: repo, artifacts: artifacts}
}

// LatestForText returns the most recent evaluation of a requirement text,
// or ErrNotFound when it was never scored. The text is checksummed the same
// way the scorer checksums it, so lookups are insensitive to surrounding
// whitespace and Unicode normalization form.
func (s *EvaluationService) LatestForText(ctx context.Context, text string) (*models.EvaluationRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty requirement text", ErrInvalidInput)
	}

	rec, err := s.artifacts.GetLatestByChecksum(ctx, models.Checksum(text), cache.ScopeEvaluation)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest evaluation: %w", err)
	}
	if rec == nil || rec.Evaluation == nil {
		return nil, fmt.Errorf("evaluation for text: %w", ErrNotFound)
	}
	return rec.Evaluation, nil
}

// Record persists one completed evaluation through the cache.
func (s *EvaluationService) Record(ctx context.Context, eval models.Evaluation, details []models.CriterionScore) error {
	if eval.RequirementChecksum == "" {
		return NewValidationError("requirement_checksum", "must not be empty")
	}
	err := s.artifacts.Put(ctx, &cache.Record{
		Scope:      cache.ScopeEvaluation,
		Checksum:   eval.RequirementChecksum,
		Evaluation: &models.EvaluationRecord{Evaluation: eval, Details: details},
	})
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// HistoryForText returns past evaluations of a requirement text, newest
// first. History reads bypass the cache; they are audit queries.
func (s *EvaluationService) HistoryForText(ctx context.Context, text string, limit int) ([]models.Evaluation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty requirement text", ErrInvalidInput)
	}
	history, err := s.repo.EvaluationHistory(ctx, models.Checksum(text), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation history: %w", err)
	}
	return history, nil
}
