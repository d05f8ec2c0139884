// Package embed defines the embedding boundary: texts in, fixed-dimension
// vectors out. The production implementation rides the same configured
// OpenAI-compatible client as the chat completions.
package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
)

// Embedder turns texts into vectors. Implementations must return one
// vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder is the production Embedder. Inputs are batched 100 at a
// time and newlines are stripped before embedding.
type OpenAIEmbedder struct {
	impl *embeddings.EmbedderImpl
	dim  int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder wraps an embedding-capable client. dim is the vector
// dimension the configured model produces; the vector store needs it to
// create collections.
func NewOpenAIEmbedder(client embeddings.EmbedderClient, dim int) (*OpenAIEmbedder, error) {
	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(100),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct embedder: %w", err)
	}
	return &OpenAIEmbedder{impl: impl, dim: dim}, nil
}

// Embed returns one vector per text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// Dim reports the configured vector dimension.
func (e *OpenAIEmbedder) Dim() int {
	return e.dim
}
