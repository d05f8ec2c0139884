package kg

import (
	"context"
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/vector"
)

// Direction selects which edges a neighborhood query follows.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = "both"
)

// ParseDirection maps a query parameter to a Direction, defaulting to both.
func ParseDirection(raw string) Direction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in":
		return DirIn
	case "out":
		return DirOut
	default:
		return DirBoth
	}
}

// NodeHit is one semantic node search result.
type NodeHit struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NeighborHit is one edge in a 1-hop neighborhood.
type NeighborHit struct {
	EdgeID   string `json:"edge_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Rel      string `json:"rel"`
	Neighbor string `json:"neighbor"`
}

// Query serves read access to the persisted knowledge graph.
type Query struct {
	embedder embed.Embedder
	store    vector.Store
}

// NewQuery creates a query layer over the persisted graph collections.
func NewQuery(embedder embed.Embedder, store vector.Store) *Query {
	return &Query{embedder: embedder, store: store}
}

// SearchNodes runs a semantic top-k search over node embeddings, optionally
// restricted to one node type.
func (q *Query) SearchNodes(ctx context.Context, query string, topK int, nodeType string) ([]NodeHit, error) {
	if topK <= 0 {
		topK = 10
	}
	vectors, err := q.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var filter map[string]any
	if nodeType != "" {
		filter = map[string]any{
			"must": []map[string]any{
				{"key": "type", "match": map[string]any{"value": canonicalType(nodeType)}},
			},
		}
	}
	points, err := q.store.Search(ctx, config.CollectionKGNodes, vectors[0], topK, filter)
	if err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}

	hits := make([]NodeHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, NodeHit{
			ID:      p.ID,
			Type:    payloadString(p.Payload, "type"),
			Name:    payloadString(p.Payload, "name"),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}
	return hits, nil
}

// Neighbors returns the 1-hop edges around a node, following the given
// direction and optionally one relation type.
func (q *Query) Neighbors(ctx context.Context, nodeID string, dir Direction, rel string, limit int) ([]NeighborHit, error) {
	if limit <= 0 {
		limit = 50
	}

	var hits []NeighborHit
	fetch := func(key string) error {
		must := []map[string]any{
			{"key": key, "match": map[string]any{"value": nodeID}},
		}
		if rel != "" {
			must = append(must, map[string]any{"key": "rel", "match": map[string]any{"value": strings.ToUpper(rel)}})
		}
		points, err := q.store.Scroll(ctx, config.CollectionKGEdges, map[string]any{"must": must}, limit)
		if err != nil {
			return fmt.Errorf("scroll edges: %w", err)
		}
		for _, p := range points {
			from := payloadString(p.Payload, "from")
			to := payloadString(p.Payload, "to")
			neighbor := to
			if key == "to" {
				neighbor = from
			}
			hits = append(hits, NeighborHit{
				EdgeID:   p.ID,
				From:     from,
				To:       to,
				Rel:      payloadString(p.Payload, "rel"),
				Neighbor: neighbor,
			})
		}
		return nil
	}

	if dir == DirOut || dir == DirBoth {
		if err := fetch("from"); err != nil {
			return nil, err
		}
	}
	if dir == DirIn || dir == DirBoth {
		if err := fetch("to"); err != nil {
			return nil, err
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func canonicalType(raw string) string {
	return string(parseNodeType(raw))
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}
