package workbench

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/vector"
)

// TextScorer is the slice of the rubric scorer the requirement_eval tool
// needs.
type TextScorer interface {
	Score(ctx context.Context, text string, criteriaKeys []string, threshold float64) (*models.EvaluationRecord, error)
}

// RegisterQdrantSearch adds the qdrant_search tool: semantic lookup over a
// vector collection, defaulting to the requirements chunk collection.
func RegisterQdrantSearch(w *Workbench, embedder embed.Embedder, store vector.Store) error {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":      map[string]any{"type": "string", "description": "natural-language search query"},
			"collection": map[string]any{"type": "string", "description": "collection to search, defaults to " + config.CollectionChunks},
			"top_k":      map[string]any{"type": "integer", "description": "number of hits, defaults to 5"},
		},
		"required": []string{"query"},
	}
	return w.Register("qdrant_search", "Search the vector store for text semantically similar to a query.", schema,
		func(ctx context.Context, args map[string]any) (string, error) {
			query := stringArg(args, "query")
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query must not be empty")
			}
			collection := stringArg(args, "collection")
			if collection == "" {
				collection = config.CollectionChunks
			}
			topK := intArg(args, "top_k", 5)

			vectors, err := embedder.Embed(ctx, []string{query})
			if err != nil {
				return "", fmt.Errorf("failed to embed query: %w", err)
			}
			hits, err := store.Search(ctx, collection, vectors[0], topK, nil)
			if err != nil {
				return "", fmt.Errorf("search failed: %w", err)
			}
			return renderHits(hits), nil
		})
}

// RegisterRequirementEval adds the requirement_eval tool: run the rubric
// scorer over a single requirement text and return the scored record.
func RegisterRequirementEval(w *Workbench, scorer TextScorer, threshold float64) error {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":          map[string]any{"type": "string", "description": "requirement text to evaluate"},
			"criteria_keys": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"text"},
	}
	return w.Register("requirement_eval", "Evaluate a requirement text against the quality rubric.", schema,
		func(ctx context.Context, args map[string]any) (string, error) {
			text := stringArg(args, "text")
			if strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("text must not be empty")
			}
			record, err := scorer.Score(ctx, text, stringSliceArg(args, "criteria_keys"), threshold)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(record)
			if err != nil {
				return "", fmt.Errorf("failed to encode evaluation: %w", err)
			}
			return string(data), nil
		})
}

// renderHits formats search hits one per line for prompt consumption.
func renderHits(hits []vector.ScoredPoint) string {
	if len(hits) == 0 {
		return "no results"
	}
	var b strings.Builder
	for i, h := range hits {
		text, _ := h.Payload["text"].(string)
		if text == "" {
			if data, err := json.Marshal(h.Payload); err == nil {
				text = string(data)
			}
		}
		fmt.Fprintf(&b, "%d. [%s score=%.3f] %s\n", i+1, h.ID, h.Score, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg tolerates JSON numbers arriving as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
