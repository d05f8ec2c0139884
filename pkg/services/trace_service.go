package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/vector"
)

// TraceService persists agent traces into the trace vector collection and
// serves their client-safe projections. Full records, thoughts included,
// stay in the collection for audit; nothing leaving this service carries
// thoughts or critique.
type TraceService struct {
	vec        vector.Store
	embedder   embed.Embedder
	collection string
	logger     *slog.Logger
}

// NewTraceService creates a new TraceService
func NewTraceService(vec vector.Store, embedder embed.Embedder, collection string, logger *slog.Logger) *TraceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceService{
		vec:        vec,
		embedder:   embedder,
		collection: collection,
		logger:     logger.With("component", "trace_service"),
	}
}

// Save persists one trace turn. The embedding is computed from the
// client-safe payload so semantic trace search never indexes thoughts.
func (s *TraceService) Save(ctx context.Context, rec models.TraceRecord) error {
	if rec.ReqID == "" {
		return NewValidationError("req_id", "must not be empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	embedText := rec.UIPayload()
	if embedText == "" {
		embedText = rec.Plan
	}
	if embedText == "" {
		embedText = rec.ReqID
	}

	vecs, err := s.embedder.Embed(ctx, []string{embedText})
	if err != nil {
		return fmt.Errorf("failed to embed trace: %w", err)
	}

	payload, err := toPayload(rec)
	if err != nil {
		return fmt.Errorf("failed to encode trace payload: %w", err)
	}

	id := fmt.Sprintf("%s#%s#%d", rec.ReqID, rec.AgentType, rec.CreatedAt.UnixNano())
	err = s.vec.Upsert(ctx, s.collection, []vector.Point{{ID: id, Vector: vecs[0], Payload: payload}})
	if err != nil {
		return fmt.Errorf("failed to persist trace: %w", err)
	}
	return nil
}

// ByReqID returns the client-safe trace views for one requirement, oldest
// first.
func (s *TraceService) ByReqID(ctx context.Context, reqID string) ([]models.TraceView, error) {
	records, err := s.recordsByReqID(ctx, reqID)
	if err != nil {
		return nil, err
	}

	views := make([]models.TraceView, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View())
	}
	return views, nil
}

// LatestPayload collapses a requirement's trace history to one client-safe
// string: the last non-empty final answer, else the last non-empty decision.
func (s *TraceService) LatestPayload(ctx context.Context, reqID string) (string, error) {
	records, err := s.recordsByReqID(ctx, reqID)
	if err != nil {
		return "", err
	}
	return models.UIPayloadFor(records), nil
}

func (s *TraceService) recordsByReqID(ctx context.Context, reqID string) ([]models.TraceRecord, error) {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "req_id", "match": map[string]any{"value": reqID}},
		},
	}
	points, err := s.vec.Scroll(ctx, s.collection, filter, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}

	records := make([]models.TraceRecord, 0, len(points))
	for _, p := range points {
		var rec models.TraceRecord
		if err := fromPayload(p.Payload, &rec); err != nil {
			s.logger.Warn("Skipping undecodable trace point", "point_id", p.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func toPayload(rec models.TraceRecord) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func fromPayload(payload map[string]any, rec *models.TraceRecord) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, rec)
}
