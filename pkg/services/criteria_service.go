package services

import (
	"context"
	"fmt"

	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

// CriteriaRepository is the slice of the store the criteria service uses.
type CriteriaRepository interface {
	ListCriteria(ctx context.Context) ([]models.Criterion, error)
	LoadCriteria(ctx context.Context) (map[string]float64, error)
	SeedDefaultCriteria(ctx context.Context) (int, error)
}

var _ CriteriaRepository = (*store.Store)(nil)

// CriteriaService exposes the scoring rubric.
type CriteriaService struct {
	repo CriteriaRepository
}

// NewCriteriaService creates a new CriteriaService
func NewCriteriaService(repo CriteriaRepository) *CriteriaService {
	return &CriteriaService{repo: repo}
}

// List returns the full rubric.
func (s *CriteriaService) List(ctx context.Context) ([]models.Criterion, error) {
	criteria, err := s.repo.ListCriteria(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}
	return criteria, nil
}

// Weights returns per-criterion weights for aggregate scoring. Criteria
// absent from the store score with weight 1.0; the caller applies that
// default for keys it asks about that are missing here.
func (s *CriteriaService) Weights(ctx context.Context) (map[string]float64, error) {
	weights, err := s.repo.LoadCriteria(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load criterion weights: %w", err)
	}
	return weights, nil
}

// SeedDefaults installs the built-in rubric, skipping existing keys.
func (s *CriteriaService) SeedDefaults(ctx context.Context) (int, error) {
	inserted, err := s.repo.SeedDefaultCriteria(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to seed default criteria: %w", err)
	}
	return inserted, nil
}
