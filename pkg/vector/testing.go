package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests: exact cosine ranking over
// everything upserted, with equality-only filter support on payload keys.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Point // collection -> logical id -> point
	FailUpsert  error
	FailSearch  error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Point)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, name string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]Point)
	}
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	if m.FailUpsert != nil {
		return m.FailUpsert
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Point)
		m.collections[collection] = coll
	}
	for _, p := range points {
		coll[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]ScoredPoint, error) {
	if m.FailSearch != nil {
		return nil, m.FailSearch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []ScoredPoint
	for id, p := range m.collections[collection] {
		if !matches(p.Payload, filter) {
			continue
		}
		hits = append(hits, ScoredPoint{ID: id, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) Scroll(_ context.Context, collection string, filter map[string]any, limit int) ([]ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScoredPoint
	for id, p := range m.collections[collection] {
		if !matches(p.Payload, filter) {
			continue
		}
		out = append(out, ScoredPoint{ID: id, Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Healthy(context.Context) error { return nil }

// Count reports how many points a collection holds.
func (m *MemoryStore) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

// Get returns a stored point by logical id.
func (m *MemoryStore) Get(collection, id string) (Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.collections[collection][id]
	return p, ok
}

// matches supports the Qdrant "must match value" filter shape used in this
// codebase: {"must": [{"key": k, "match": {"value": v}}]}.
func matches(payload, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	must, ok := filter["must"].([]map[string]any)
	if !ok {
		if raw, isAny := filter["must"].([]any); isAny {
			for _, item := range raw {
				if m, isMap := item.(map[string]any); isMap {
					must = append(must, m)
				}
			}
		}
	}
	for _, cond := range must {
		key, _ := cond["key"].(string)
		match, _ := cond["match"].(map[string]any)
		if payload == nil || payload[key] != match["value"] {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
