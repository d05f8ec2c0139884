package store

import (
	"context"
	"fmt"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
)

// ReplaceSuggestions swaps the stored atomic-split suggestions for a
// requirement text. Suggestions are latest-wins: a new scoring run replaces
// whatever the previous run proposed.
func (s *Store) ReplaceSuggestions(ctx context.Context, checksum string, items []models.Suggestion) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(writeCtx, `DELETE FROM suggestions WHERE requirement_checksum = $1`, checksum); err != nil {
		return fmt.Errorf("failed to clear suggestions: %w", err)
	}

	for _, item := range items {
		_, err := tx.ExecContext(writeCtx,
			`INSERT INTO suggestions (requirement_checksum, text, rationale) VALUES ($1, $2, $3)`,
			checksum, item.Text, item.Rationale,
		)
		if err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit suggestions: %w", err)
	}
	return nil
}

// SuggestionsByChecksum returns the current suggestions for a requirement
// text in insertion order.
func (s *Store) SuggestionsByChecksum(ctx context.Context, checksum string) ([]models.Suggestion, error) {
	var rows []models.Suggestion
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, requirement_checksum, text, rationale, created_at
		 FROM suggestions
		 WHERE requirement_checksum = $1
		 ORDER BY id`,
		checksum,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestions: %w", err)
	}
	return rows, nil
}
