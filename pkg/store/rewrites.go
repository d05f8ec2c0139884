package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
)

// SaveRewrite appends one completed rewrite. The assigned row id is written
// back into rw.
func (s *Store) SaveRewrite(ctx context.Context, rw *models.RewrittenRequirement) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.db.GetContext(writeCtx, &rw.ID,
		`INSERT INTO rewritten_requirements
		 (req_id, requirement_checksum, original_text, rewritten_text, addressed_criteria, attempt, new_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		rw.ReqID, rw.RequirementChecksum, rw.OriginalText, rw.RewrittenText,
		rw.AddressedCriteria, rw.Attempt, rw.NewScore,
	)
	if err != nil {
		return fmt.Errorf("failed to save rewrite: %w", err)
	}
	return nil
}

// LatestRewriteByChecksum returns the most recent rewrite of a requirement
// text, or ErrNotFound when it was never rewritten.
func (s *Store) LatestRewriteByChecksum(ctx context.Context, checksum string) (*models.RewrittenRequirement, error) {
	var rw models.RewrittenRequirement
	err := s.db.GetContext(ctx, &rw,
		`SELECT id, req_id, requirement_checksum, original_text, rewritten_text, addressed_criteria, attempt, new_score, created_at
		 FROM rewritten_requirements
		 WHERE requirement_checksum = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		checksum,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rewrite for checksum %s: %w", checksum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest rewrite: %w", err)
	}
	return &rw, nil
}

// RewriteHistory returns rewrites recorded for a requirement id, newest
// first.
func (s *Store) RewriteHistory(ctx context.Context, reqID string, limit int) ([]models.RewrittenRequirement, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.RewrittenRequirement
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, req_id, requirement_checksum, original_text, rewritten_text, addressed_criteria, attempt, new_score, created_at
		 FROM rewritten_requirements
		 WHERE req_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		reqID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get rewrite history: %w", err)
	}
	return rows, nil
}
