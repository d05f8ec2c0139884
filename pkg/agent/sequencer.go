package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
)

// State names one phase of the refinement loop.
type State string

const (
	StatePlanning  State = "planning"
	StateSolving   State = "solving"
	StateVerifying State = "verifying"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// RunResult is the outcome of one full refinement run.
type RunResult struct {
	State  State
	Rounds int
	Traces []models.TraceRecord

	// Answer is the client-safe payload: the last non-empty final answer,
	// else the last non-empty decision. Never thoughts or critique.
	Answer string

	// Err is set when State is failed.
	Err error
}

// Sequencer drives one requirement through the planner, solver, and
// verifier until the verifier passes, the critique runs dry, rounds are
// exhausted, or a round times out.
type Sequencer struct {
	planner  *Planner
	solver   *Solver
	verifier *Verifier

	maxRounds    int
	roundTimeout time.Duration
	memoryLen    int
	logger       *slog.Logger
}

// NewSequencer wires the loop. maxRounds < 1 becomes 1; roundTimeout <= 0
// disables per-round deadlines.
func NewSequencer(planner *Planner, solver *Solver, verifier *Verifier, maxRounds int, roundTimeout time.Duration, logger *slog.Logger) *Sequencer {
	if maxRounds < 1 {
		maxRounds = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		planner:      planner,
		solver:       solver,
		verifier:     verifier,
		maxRounds:    maxRounds,
		roundTimeout: roundTimeout,
		memoryLen:    DefaultMemoryLen,
		logger:       logger.With("component", "sequencer"),
	}
}

// Run executes the state machine for one task. The returned result is
// usable even in the failed state; Traces carries everything produced up
// to the failure.
func (s *Sequencer) Run(ctx context.Context, task Task) *RunResult {
	result := &RunResult{State: StatePlanning}
	mem := NewMemory(s.memoryLen)

	planTrace, err := s.withRoundTimeout(ctx, func(rctx context.Context) (models.TraceRecord, error) {
		return s.planner.Plan(rctx, task, mem)
	})
	if err != nil {
		return s.fail(result, fmt.Errorf("planning failed: %w", err))
	}
	result.Traces = append(result.Traces, planTrace)

	critique := ""
	for round := 1; round <= s.maxRounds; round++ {
		result.Rounds = round
		result.State = StateSolving

		solveTrace, err := s.withRoundTimeout(ctx, func(rctx context.Context) (models.TraceRecord, error) {
			return s.solver.Solve(rctx, task, planTrace.Plan, critique, mem)
		})
		if err != nil {
			return s.fail(result, fmt.Errorf("round %d solving failed: %w", round, err))
		}
		result.Traces = append(result.Traces, solveTrace)

		result.State = StateVerifying
		verifyTrace, err := s.withRoundTimeout(ctx, func(rctx context.Context) (models.TraceRecord, error) {
			return s.verifier.Verify(rctx, task, solveTrace.FinalAnswer, solveTrace.Evidence, mem)
		})
		if err != nil {
			// A solved answer exists; a verifier timeout ends the loop
			// rather than discarding the work.
			s.logger.Warn("verification failed, keeping last answer",
				"req_id", task.ReqID, "round", round, "error", err)
			return s.finish(result)
		}
		result.Traces = append(result.Traces, verifyTrace)

		if Accepted(verifyTrace.Decision) {
			s.logger.Info("verifier passed", "req_id", task.ReqID, "round", round)
			return s.finish(result)
		}
		if verifyTrace.Critique == "" {
			s.logger.Info("verifier rejected without critique, stopping", "req_id", task.ReqID, "round", round)
			return s.finish(result)
		}
		critique = verifyTrace.Critique
	}

	s.logger.Info("reflection rounds exhausted", "req_id", task.ReqID, "rounds", s.maxRounds)
	return s.finish(result)
}

func (s *Sequencer) withRoundTimeout(ctx context.Context, fn func(context.Context) (models.TraceRecord, error)) (models.TraceRecord, error) {
	if s.roundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.roundTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (s *Sequencer) finish(result *RunResult) *RunResult {
	result.State = StateDone
	result.Answer = models.UIPayloadFor(result.Traces)
	return result
}

func (s *Sequencer) fail(result *RunResult, err error) *RunResult {
	result.State = StateFailed
	result.Err = err
	result.Answer = models.UIPayloadFor(result.Traces)
	return result
}
