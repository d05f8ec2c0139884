package config

import (
	"fmt"
	"time"
)

// RewriteConfig controls the feedback-driven rewrite loop.
type RewriteConfig struct {
	// MaxConcurrent bounds requirements being rewritten in parallel.
	MaxConcurrent int

	// Timeout bounds one rewrite LLM call.
	Timeout time.Duration

	// MaxAttempts bounds sequential rewrite rounds per requirement.
	MaxAttempts int

	// TargetScore is the revalidation score that ends the loop early.
	TargetScore float64

	// EnableRevalidation re-scores each rewrite before accepting it.
	EnableRevalidation bool

	// RevalidationPermits is the separate semaphore for re-scoring, kept
	// apart from MaxConcurrent so revalidation cannot starve rewrites.
	RevalidationPermits int
}

// DefaultRewriteConfig returns the built-in rewrite defaults.
func DefaultRewriteConfig() *RewriteConfig {
	return &RewriteConfig{
		MaxConcurrent:       3,
		Timeout:             60 * time.Second,
		MaxAttempts:         3,
		TargetScore:         0.7,
		EnableRevalidation:  true,
		RevalidationPermits: 5,
	}
}

func (c *RewriteConfig) loadEnv() {
	c.MaxConcurrent = getEnvInt("REWRITE_MAX_CONCURRENT", c.MaxConcurrent)
	c.Timeout = getEnvSeconds("REWRITE_TIMEOUT", c.Timeout)
	c.TargetScore = getEnvFloat("VERDICT_THRESHOLD", c.TargetScore)
}

// Validate rejects unusable rewrite settings.
func (c *RewriteConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("rewrite: REWRITE_MAX_CONCURRENT must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("rewrite: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	return nil
}
