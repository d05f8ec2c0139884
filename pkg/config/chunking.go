package config

import "fmt"

// ChunkingConfig controls token-aware windowing of extracted text.
type ChunkingConfig struct {
	// TokensMin is the minimum window length; shorter tail windows are
	// dropped unless they are the only window.
	TokensMin int

	// TokensMax is the window length.
	TokensMax int

	// OverlapTokens is how many tokens consecutive windows share.
	OverlapTokens int

	// Encoding names the BPE table. Resolved from the model name at
	// startup; cl100k_base when the model is unknown.
	Encoding string
}

// DefaultChunkingConfig returns the built-in chunking defaults.
func DefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		TokensMin:     200,
		TokensMax:     400,
		OverlapTokens: 50,
		Encoding:      "cl100k_base",
	}
}

func (c *ChunkingConfig) loadEnv() {
	c.TokensMin = getEnvInt("CHUNK_TOKENS_MIN", c.TokensMin)
	c.TokensMax = getEnvInt("CHUNK_TOKENS_MAX", c.TokensMax)
	c.OverlapTokens = getEnvInt("CHUNK_OVERLAP_TOKENS", c.OverlapTokens)
}

// Validate rejects configurations the chunker could not clamp sensibly.
func (c *ChunkingConfig) Validate() error {
	if c.TokensMax <= 0 {
		return fmt.Errorf("chunking: CHUNK_TOKENS_MAX must be positive, got %d", c.TokensMax)
	}
	return nil
}
