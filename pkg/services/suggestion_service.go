package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

// SuggestionRepository is the slice of the store the suggestion service uses.
type SuggestionRepository interface {
	ReplaceSuggestions(ctx context.Context, checksum string, items []models.Suggestion) error
	SuggestionsByChecksum(ctx context.Context, checksum string) ([]models.Suggestion, error)
}

var _ SuggestionRepository = (*store.Store)(nil)

// SuggestionService manages atomic-split suggestions per requirement text.
type SuggestionService struct {
	repo SuggestionRepository
}

// NewSuggestionService creates a new SuggestionService
func NewSuggestionService(repo SuggestionRepository) *SuggestionService {
	return &SuggestionService{repo: repo}
}

// Replace stores the current suggestions for a requirement text, replacing
// whatever an earlier run proposed.
func (s *SuggestionService) Replace(ctx context.Context, text string, items []models.Suggestion) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty requirement text", ErrInvalidInput)
	}
	if err := s.repo.ReplaceSuggestions(ctx, models.Checksum(text), items); err != nil {
		return fmt.Errorf("failed to replace suggestions: %w", err)
	}
	return nil
}

// ForText returns the current suggestions for a requirement text.
func (s *SuggestionService) ForText(ctx context.Context, text string) ([]models.Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty requirement text", ErrInvalidInput)
	}
	items, err := s.repo.SuggestionsByChecksum(ctx, models.Checksum(text))
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestions: %w", err)
	}
	return items, nil
}
