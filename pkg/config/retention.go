package config

import "time"

// RetentionConfig controls event retention and cleanup behavior.
type RetentionConfig struct {
	// EventTTL is the maximum age of persisted stream events before the
	// cleanup sweep removes them. Catch-up only needs a recent window.
	EventTTL time.Duration

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EventTTL:        24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	}
}

func (c *RetentionConfig) loadEnv() {
	if h := getEnvInt("EVENT_TTL_HOURS", 0); h > 0 {
		c.EventTTL = time.Duration(h) * time.Hour
	}
}
