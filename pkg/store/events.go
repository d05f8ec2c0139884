package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
)

// AppendEvent persists one session event and returns it with the assigned
// id, which doubles as the SSE catch-up cursor.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, typ models.EventType, payload any) (*models.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evt := models.Event{SessionID: sessionID, Type: typ, Payload: raw}
	err = s.db.QueryRowxContext(writeCtx,
		`INSERT INTO events (session_id, type, payload) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		sessionID, typ, raw,
	).Scan(&evt.ID, &evt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return &evt, nil
}

// EventsAfter returns a session's events with id greater than afterID in
// ascending id order, capped at limit.
func (s *Store) EventsAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []models.Event
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, type, payload, created_at
		 FROM events
		 WHERE session_id = $1 AND id > $2
		 ORDER BY id
		 LIMIT $3`,
		sessionID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return rows, nil
}

// DeleteSessionEvents removes all events for a session.
func (s *Store) DeleteSessionEvents(ctx context.Context, sessionID string) (int64, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `DELETE FROM events WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup session events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneEventsBefore removes events older than the cutoff.
func (s *Store) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
