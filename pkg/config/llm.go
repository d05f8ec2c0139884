package config

// LLMConfig controls the chat-completion provider.
type LLMConfig struct {
	// Model is the completion model identifier sent upstream.
	Model string

	// BaseURL overrides the provider endpoint (OpenAI-compatible).
	// Empty means the provider default.
	BaseURL string

	// APIKey authenticates against the provider.
	APIKey string

	// EmbeddingModel is the embedding model identifier.
	EmbeddingModel string

	// EmbeddingDim is the vector dimension the embedder produces.
	// 384 for compact sentence-transformer gateways, 1536 OpenAI-style.
	EmbeddingDim int

	// MaxRetries bounds transport-level retry before the call is reported
	// as upstream_unavailable.
	MaxRetries int
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		EmbeddingDim:   1536,
		MaxRetries:     3,
	}
}

func (c *LLMConfig) loadEnv() {
	c.Model = getEnv("MODEL_NAME", c.Model)
	c.BaseURL = getEnv("OPENAI_BASE_URL", c.BaseURL)
	c.APIKey = getEnv("OPENAI_API_KEY", c.APIKey)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = getEnvInt("EMBEDDING_DIM", c.EmbeddingDim)
}
