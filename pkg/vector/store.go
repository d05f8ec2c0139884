// Package vector defines the vector store boundary and its Qdrant HTTP
// implementation. Collections are ensured idempotently at startup, point
// ids are derived deterministically from logical ids, and batches are
// upserted in atomic sub-batches.
package vector

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnavailable marks a vector store that stayed unreachable after
// retries. Handlers map it to a 503-class response.
var ErrUnavailable = errors.New("vector store unavailable")

// Point is one vector record. ID is the logical identifier (req_id, node
// id, trace id); the store derives its own point id from it and keeps the
// logical id in the payload for round-tripping.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is one search/scroll hit with its logical id restored.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the vector store interface the rest of the system uses.
type Store interface {
	// EnsureCollection creates the named collection with the given vector
	// dimension if it does not exist. Safe to call repeatedly.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes points, overwriting same-id points. Each underlying
	// sub-batch is atomic.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns the top-limit points by cosine similarity to vector,
	// optionally restricted by a Qdrant filter.
	Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]ScoredPoint, error)

	// Scroll fetches points by filter without a query vector.
	Scroll(ctx context.Context, collection string, filter map[string]any, limit int) ([]ScoredPoint, error)

	// Healthy reports whether the store answers at all.
	Healthy(ctx context.Context) error
}

// PointID derives the deterministic UUID point id for a logical id, so
// re-upserting the same logical record always lands on the same point.
func PointID(logicalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(logicalID)).String()
}
