package embed

import "context"

// StubEmbedder is a deterministic in-memory Embedder for tests. Texts
// found in Vectors get their mapped vector; everything else gets Default.
type StubEmbedder struct {
	Vectors map[string][]float32
	Default []float32
	Err     error
}

var _ Embedder = (*StubEmbedder)(nil)

// Embed returns mapped vectors in input order.
func (s *StubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = s.Default
	}
	return out, nil
}
