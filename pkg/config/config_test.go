package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Validation.MaxConcurrent)
	assert.Equal(t, 120*time.Second, cfg.Validation.Timeout)
	assert.Equal(t, 3, cfg.Rewrite.MaxConcurrent)
	assert.Equal(t, 60*time.Second, cfg.Rewrite.Timeout)
	assert.Equal(t, 200, cfg.Chunking.TokensMin)
	assert.Equal(t, 400, cfg.Chunking.TokensMax)
	assert.Equal(t, 50, cfg.Chunking.OverlapTokens)
	assert.InDelta(t, 0.7, cfg.Validation.Threshold, 1e-9)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VALIDATION_MAX_CONCURRENT", "8")
	t.Setenv("REWRITE_TIMEOUT", "45")
	t.Setenv("VERDICT_THRESHOLD", "0.85")
	t.Setenv("CHUNK_TOKENS_MAX", "512")
	t.Setenv("MODEL_NAME", "gpt-4o")
	t.Setenv("QDRANT_URL", "http://qdrant.internal")
	t.Setenv("QDRANT_PORT", "7333")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Validation.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Rewrite.Timeout)
	assert.InDelta(t, 0.85, cfg.Validation.Threshold, 1e-9)
	assert.InDelta(t, 0.85, cfg.Rewrite.TargetScore, 1e-9)
	assert.Equal(t, 512, cfg.Chunking.TokensMax)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "http://qdrant.internal:7333", cfg.Qdrant.BaseURL())
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("VALIDATION_MAX_CONCURRENT", "lots")
	t.Setenv("VERDICT_THRESHOLD", "high")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Validation.MaxConcurrent)
	assert.InDelta(t, 0.7, cfg.Validation.Threshold, 1e-9)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Validation.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Validation.Threshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Chunking.TokensMax = 0
	assert.Error(t, cfg.Validate())
}
