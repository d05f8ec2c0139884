// Package config defines the typed runtime configuration and its
// environment-variable loading. Every knob has a built-in default; Load
// applies env overrides on top and validates the result. Configuration is
// read once at startup and passed by reference — packages never read the
// environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella runtime configuration.
type Config struct {
	Server     *ServerConfig
	LLM        *LLMConfig
	Qdrant     *QdrantConfig
	Chunking   *ChunkingConfig
	Validation *ValidationConfig
	Rewrite    *RewriteConfig
	Pipeline   *PipelineConfig
	Webhook    *WebhookConfig
	Retention  *RetentionConfig
}

// Default returns the full built-in configuration.
func Default() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		LLM:        DefaultLLMConfig(),
		Qdrant:     DefaultQdrantConfig(),
		Chunking:   DefaultChunkingConfig(),
		Validation: DefaultValidationConfig(),
		Rewrite:    DefaultRewriteConfig(),
		Pipeline:   DefaultPipelineConfig(),
		Webhook:    DefaultWebhookConfig(),
		Retention:  DefaultRetentionConfig(),
	}
}

// Load builds the configuration from defaults plus environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	cfg.Server.loadEnv()
	cfg.LLM.loadEnv()
	cfg.Qdrant.loadEnv()
	cfg.Chunking.loadEnv()
	cfg.Validation.loadEnv()
	cfg.Rewrite.loadEnv()
	cfg.Pipeline.loadEnv()
	cfg.Webhook.loadEnv()
	cfg.Retention.loadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency after env overrides.
func (c *Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if err := c.Validation.Validate(); err != nil {
		return err
	}
	if err := c.Rewrite.Validate(); err != nil {
		return err
	}
	return c.Pipeline.Validate()
}

// getEnv returns the env value or fallback when unset/empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses an integer env var, keeping fallback on absence or
// parse failure.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat parses a float env var, keeping fallback on absence or
// parse failure.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvSeconds parses an integer number of seconds into a Duration.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
