package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
)

// SaveEvaluation appends one evaluation header with its per-criterion details
// in a single transaction. Rows are never updated; the latest row per
// checksum is authoritative and older rows remain as history.
func (s *Store) SaveEvaluation(ctx context.Context, eval models.Evaluation, details []models.CriterionScore) error {
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(writeCtx,
		`INSERT INTO evaluations
		 (evaluation_id, requirement_checksum, requirement_text, score, verdict, model_id, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		eval.EvaluationID, eval.RequirementChecksum, eval.RequirementText,
		eval.Score, eval.Verdict, eval.ModelID, eval.LatencyMs, eval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	for _, d := range details {
		_, err = tx.ExecContext(writeCtx,
			`INSERT INTO evaluation_details (evaluation_id, criterion_key, score, passed, feedback)
			 VALUES ($1, $2, $3, $4, $5)`,
			eval.EvaluationID, d.CriterionKey, d.Score, d.Passed, d.Feedback,
		)
		if err != nil {
			return fmt.Errorf("failed to insert evaluation detail for %q: %w", d.CriterionKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation: %w", err)
	}
	return nil
}

// LatestEvaluationByChecksum returns the most recent evaluation for a
// requirement text, including per-criterion details. Returns ErrNotFound
// when the checksum has never been scored.
func (s *Store) LatestEvaluationByChecksum(ctx context.Context, checksum string) (*models.EvaluationRecord, error) {
	var eval models.Evaluation
	err := s.db.GetContext(ctx, &eval,
		`SELECT evaluation_id, requirement_checksum, requirement_text, score, verdict, model_id, latency_ms, created_at
		 FROM evaluations
		 WHERE requirement_checksum = $1
		 ORDER BY created_at DESC, evaluation_id DESC
		 LIMIT 1`,
		checksum,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation for checksum %s: %w", checksum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest evaluation: %w", err)
	}

	var details []models.EvaluationDetail
	err = s.db.SelectContext(ctx, &details,
		`SELECT id, evaluation_id, criterion_key, score, passed, feedback
		 FROM evaluation_details
		 WHERE evaluation_id = $1
		 ORDER BY id`,
		eval.EvaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation details: %w", err)
	}

	rec := &models.EvaluationRecord{Evaluation: eval, Details: make([]models.CriterionScore, 0, len(details))}
	for _, d := range details {
		rec.Details = append(rec.Details, models.CriterionScore{
			CriterionKey: d.CriterionKey,
			Score:        d.Score,
			Passed:       d.Passed,
			Feedback:     d.Feedback,
		})
	}
	return rec, nil
}

// EvaluationHistory returns evaluations for a checksum, newest first.
func (s *Store) EvaluationHistory(ctx context.Context, checksum string, limit int) ([]models.Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Evaluation
	err := s.db.SelectContext(ctx, &rows,
		`SELECT evaluation_id, requirement_checksum, requirement_text, score, verdict, model_id, latency_ms, created_at
		 FROM evaluations
		 WHERE requirement_checksum = $1
		 ORDER BY created_at DESC, evaluation_id DESC
		 LIMIT $2`,
		checksum, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation history: %w", err)
	}
	return rows, nil
}
