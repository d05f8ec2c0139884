// Package chunk implements token-aware windowing with overlap over raw
// document text. Tokenization uses the model's BPE table when it can be
// loaded and falls back to whitespace splitting otherwise; the choice is
// made once per engine so identical input always chunks identically.
package chunk

import (
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Method names the tokenization strategy an engine settled on.
type Method string

const (
	MethodBPE        Method = "bpe"
	MethodWhitespace Method = "whitespace"
)

// Engine windows text into token-bounded, overlapping chunks.
type Engine struct {
	enc    *tiktoken.Tiktoken // nil means whitespace fallback
	logger *slog.Logger
}

// NewEngine resolves the BPE table for the given model, trying the model
// mapping first and cl100k_base second. When neither loads (no cached BPE
// data and no network), the engine degrades to whitespace tokenization.
func NewEngine(model string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chunking")

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Warn("BPE encoding unavailable, falling back to whitespace tokenization",
			"model", model, "error", err)
		enc = nil
	}
	return &Engine{enc: enc, logger: logger}
}

// TokenizerMethod reports which tokenization the engine uses.
func (e *Engine) TokenizerMethod() Method {
	if e.enc == nil {
		return MethodWhitespace
	}
	return MethodBPE
}

// TokenCount returns the token length of text under the engine's tokenizer.
func (e *Engine) TokenCount(text string) int {
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

// Chunk splits text into windows of maxTokens with stride
// maxTokens-overlapTokens. Windows shorter than minTokens are dropped
// unless that would empty the result, in which case the single remaining
// window is kept. Invalid parameters are clamped to the nearest valid
// values and logged once per invocation.
func (e *Engine) Chunk(text string, minTokens, maxTokens, overlapTokens int) []string {
	minTokens, maxTokens, overlapTokens = e.clamp(minTokens, maxTokens, overlapTokens)

	if e.enc != nil {
		return chunkTokens(e.enc.Encode(text, nil, nil), minTokens, maxTokens, overlapTokens,
			func(window []int) string { return e.enc.Decode(window) })
	}
	return chunkTokens(strings.Fields(text), minTokens, maxTokens, overlapTokens,
		func(window []string) string { return strings.Join(window, " ") })
}

// clamp enforces 0 <= overlap < max and 0 <= min <= max.
func (e *Engine) clamp(minTokens, maxTokens, overlapTokens int) (int, int, int) {
	clamped := false
	if maxTokens < 1 {
		maxTokens = 1
		clamped = true
	}
	if minTokens < 0 {
		minTokens = 0
		clamped = true
	}
	if minTokens > maxTokens {
		minTokens = maxTokens
		clamped = true
	}
	if overlapTokens < 0 {
		overlapTokens = 0
		clamped = true
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
		clamped = true
	}
	if clamped {
		e.logger.Warn("chunking parameters out of range, clamped",
			"min_tokens", minTokens, "max_tokens", maxTokens, "overlap_tokens", overlapTokens)
	}
	return minTokens, maxTokens, overlapTokens
}

// chunkTokens windows a token sequence and decodes each kept window.
func chunkTokens[T any](tokens []T, minTokens, maxTokens, overlapTokens int, decode func([]T) string) []string {
	if len(tokens) == 0 {
		return nil
	}
	stride := maxTokens - overlapTokens

	var out []string
	var firstWindow []T
	for start := 0; start < len(tokens); start += stride {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		if firstWindow == nil {
			firstWindow = window
		}
		if len(window) >= minTokens {
			out = append(out, decode(window))
		}
		if end == len(tokens) {
			break
		}
	}
	if len(out) == 0 {
		return []string{decode(firstWindow)}
	}
	return out
}

// HalveOnWhitespace splits text into two halves at the middle whitespace
// boundary. Used to force neighbor structure when chunking yields a single
// chunk. Texts without an internal boundary come back unsplit.
func HalveOnWhitespace(text string) []string {
	words := strings.Fields(text)
	if len(words) < 2 {
		return []string{text}
	}
	mid := len(words) / 2
	return []string{
		strings.Join(words[:mid], " "),
		strings.Join(words[mid:], " "),
	}
}
