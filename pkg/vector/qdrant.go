package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reqforge/reqforge/pkg/config"
)

// upsertBatchSize caps points per upsert request; each request is atomic
// on the Qdrant side.
const upsertBatchSize = 128

// payloadIDKey stores the logical id inside each point payload.
const payloadIDKey = "_id"

// QdrantClient is the production Store over Qdrant's HTTP API.
type QdrantClient struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	logger     *slog.Logger
	newBackoff func() backoff.BackOff
}

var _ Store = (*QdrantClient)(nil)

// NewQdrantClient builds the client. The connection pool is sized from
// cfg.MaxIdleConns, which startup sets to the sum of the worker pool
// permits plus documented headroom.
func NewQdrantClient(cfg *config.QdrantConfig, logger *slog.Logger) *QdrantClient {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}
	return &QdrantClient{
		baseURL: cfg.BaseURL(),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:  logger.With("component", "qdrant"),
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
	}
}

// EnsureCollection creates the collection when missing.
func (q *QdrantClient) EnsureCollection(ctx context.Context, name string, dim int) error {
	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	// A concurrent creator may have won the race.
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("create collection %s: status %d: %s", name, status, respBody)
	}
	q.logger.Info("collection ready", "collection", name, "dim", dim)
	return nil
}

// Upsert writes points in sub-batches of upsertBatchSize.
func (q *QdrantClient) Upsert(ctx context.Context, collection string, points []Point) error {
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := make([]map[string]any, 0, end-start)
		for _, p := range points[start:end] {
			payload := make(map[string]any, len(p.Payload)+1)
			for k, v := range p.Payload {
				payload[k] = v
			}
			payload[payloadIDKey] = p.ID
			batch = append(batch, map[string]any{
				"id":      PointID(p.ID),
				"vector":  p.Vector,
				"payload": payload,
			})
		}
		status, respBody, err := q.do(ctx, http.MethodPut,
			"/collections/"+collection+"/points?wait=true",
			map[string]any{"points": batch})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("upsert into %s: status %d: %s", collection, status, respBody)
		}
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search runs a cosine top-k query.
func (q *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if len(filter) > 0 {
		body["filter"] = filter
	}
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search %s: status %d: %s", collection, status, respBody)
	}
	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]ScoredPoint, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		out = append(out, ScoredPoint{ID: logicalID(r.ID, r.Payload), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

// Scroll fetches points by filter only.
func (q *QdrantClient) Scroll(ctx context.Context, collection string, filter map[string]any, limit int) ([]ScoredPoint, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if len(filter) > 0 {
		body["filter"] = filter
	}
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("scroll %s: status %d: %s", collection, status, respBody)
	}
	var parsed scrollResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode scroll response: %w", err)
	}
	out := make([]ScoredPoint, 0, len(parsed.Result.Points))
	for _, r := range parsed.Result.Points {
		out = append(out, ScoredPoint{ID: logicalID(r.ID, r.Payload), Payload: r.Payload})
	}
	return out, nil
}

// Healthy probes the health endpoint.
func (q *QdrantClient) Healthy(ctx context.Context) error {
	status, _, err := q.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, status)
	}
	return nil
}

// do performs one request with bounded retry on transport errors and 5xx.
func (q *QdrantClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	var status int
	var respBody []byte
	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if q.apiKey != "" {
			req.Header.Set("api-key", q.apiKey)
		}
		resp, err := q.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("qdrant returned %d", status)
		}
		return nil
	}
	policy := backoff.WithContext(q.newBackoff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return status, respBody, nil
}

// logicalID restores the caller's id from the payload, falling back to the
// raw point id.
func logicalID(raw any, payload map[string]any) string {
	if payload != nil {
		if v, ok := payload[payloadIDKey].(string); ok && v != "" {
			return v
		}
	}
	return fmt.Sprintf("%v", raw)
}
