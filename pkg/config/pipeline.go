package config

import (
	"fmt"
	"time"
)

// PipelineConfig controls the orchestrator and its per-session streams.
type PipelineConfig struct {
	// EventQueueSize bounds each session's in-memory event queue.
	EventQueueSize int

	// CatchupLimit caps how many persisted events a reconnecting client
	// replays before going live.
	CatchupLimit int

	// ClarificationTimeout is the hard wait for a guided-mode answer.
	ClarificationTimeout time.Duration

	// MaxRounds bounds the planner/solver/verifier reflection loop.
	MaxRounds int

	// RoundTimeout bounds one reflection round.
	RoundTimeout time.Duration

	// TopK is how many vector-context entries the solver retrieves.
	TopK int

	// NeighborRefs includes chunkIndex±1 evidence during mining.
	NeighborRefs bool
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		EventQueueSize:       256,
		CatchupLimit:         200,
		ClarificationTimeout: 300 * time.Second,
		MaxRounds:            3,
		RoundTimeout:         90 * time.Second,
		TopK:                 5,
		NeighborRefs:         false,
	}
}

func (c *PipelineConfig) loadEnv() {
	c.EventQueueSize = getEnvInt("EVENT_QUEUE_SIZE", c.EventQueueSize)
	c.MaxRounds = getEnvInt("MAX_REFLECTION_ROUNDS", c.MaxRounds)
	c.ClarificationTimeout = getEnvSeconds("CLARIFICATION_TIMEOUT", c.ClarificationTimeout)
}

// Validate rejects unusable pipeline settings.
func (c *PipelineConfig) Validate() error {
	if c.EventQueueSize < 1 {
		return fmt.Errorf("pipeline: event queue size must be >= 1, got %d", c.EventQueueSize)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("pipeline: max rounds must be >= 1, got %d", c.MaxRounds)
	}
	return nil
}
