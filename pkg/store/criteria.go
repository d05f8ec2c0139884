package store

import (
	"context"
	"fmt"

	"github.com/reqforge/reqforge/pkg/models"
)

// DefaultCriteria returns the built-in scoring rubric. Seeded once on first
// start; operators may adjust weights in place afterwards.
func DefaultCriteria() []models.Criterion {
	return []models.Criterion{
		{Key: "clarity", Description: "Understandable on its own, without surrounding context", Weight: 1.0},
		{Key: "testability", Description: "Verifiable by a concrete test, inspection, or demonstration", Weight: 1.0},
		{Key: "measurability", Description: "States quantifiable metrics or thresholds where behavior is bounded", Weight: 1.0},
		{Key: "atomic", Description: "Expresses exactly one obligation; no compound shall-statements", Weight: 1.0},
		{Key: "concise", Description: "Free of filler words and redundant phrasing", Weight: 1.0},
		{Key: "unambiguous", Description: "Admits a single interpretation; no vague adverbs or open-ended terms", Weight: 1.0},
		{Key: "consistent_language", Description: "Uses modal verbs (shall/should/may) consistently with their standard meaning", Weight: 1.0},
		{Key: "follows_template", Description: "Matches the structured requirement template with actor, action, and constraint", Weight: 1.0},
		{Key: "design_independent", Description: "States what the system does, not how it is implemented", Weight: 1.0},
		{Key: "purpose_independent", Description: "States observable behavior without embedding its rationale", Weight: 1.0},
	}
}

// SeedDefaultCriteria inserts the built-in rubric, skipping keys that already
// exist so operator-tuned weights survive restarts. Returns the number of
// newly inserted rows.
func (s *Store) SeedDefaultCriteria(ctx context.Context) (int, error) {
	inserted := 0
	for _, c := range DefaultCriteria() {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO criteria (key, description, weight)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO NOTHING`,
			c.Key, c.Description, c.Weight,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed criterion %q: %w", c.Key, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if inserted > 0 {
		s.logger.Info("Seeded default criteria", "inserted", inserted)
	}
	return inserted, nil
}

// LoadCriteria returns the enabled criterion weights keyed by criterion key.
// Rows with a missing or non-positive weight count as 1.0.
func (s *Store) LoadCriteria(ctx context.Context) (map[string]float64, error) {
	var rows []models.Criterion
	err := s.db.SelectContext(ctx, &rows, `SELECT key, description, weight, created_at FROM criteria ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", err)
	}

	weights := make(map[string]float64, len(rows))
	for _, c := range rows {
		w := c.Weight
		if w <= 0 {
			w = 1.0
		}
		weights[c.Key] = w
	}
	return weights, nil
}

// ListCriteria returns the full rubric ordered by key.
func (s *Store) ListCriteria(ctx context.Context) ([]models.Criterion, error) {
	var rows []models.Criterion
	err := s.db.SelectContext(ctx, &rows, `SELECT key, description, weight, created_at FROM criteria ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}
	return rows, nil
}
