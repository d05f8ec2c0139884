package config

import (
	"fmt"
	"time"
)

// ValidationConfig controls parallel rubric scoring.
type ValidationConfig struct {
	// MaxConcurrent is the worker pool permit count.
	MaxConcurrent int

	// Timeout bounds one requirement's scoring call.
	Timeout time.Duration

	// Threshold is the aggregate score at or above which the verdict is
	// "pass".
	Threshold float64
}

// DefaultValidationConfig returns the built-in validation defaults.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxConcurrent: 5,
		Timeout:       120 * time.Second,
		Threshold:     0.7,
	}
}

func (c *ValidationConfig) loadEnv() {
	c.MaxConcurrent = getEnvInt("VALIDATION_MAX_CONCURRENT", c.MaxConcurrent)
	c.Timeout = getEnvSeconds("VALIDATION_TIMEOUT", c.Timeout)
	c.Threshold = getEnvFloat("VERDICT_THRESHOLD", c.Threshold)
}

// Validate rejects unusable validation settings.
func (c *ValidationConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("validation: VALIDATION_MAX_CONCURRENT must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("validation: VERDICT_THRESHOLD must be in [0,1], got %v", c.Threshold)
	}
	return nil
}
