// Package pool provides the bounded-concurrency executor the delegators
// run their batches on. A counting semaphore caps in-flight tasks, each
// task gets its own deadline, and failures stay inside their result slot —
// one bad task never cancels its siblings.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTaskTimeout marks a task that exceeded its per-task deadline. Partial
// work from such a task is discarded.
var ErrTaskTimeout = errors.New("timeout")

// Result is the outcome of one task, stored at the task's input position.
type Result[R any] struct {
	Value R
	Err   error
}

// Progress is invoked after each task completes with the running completed
// count. The final (total, total) call is delivered exactly once.
type Progress func(completed, total, workerID int, msg string)

// Run executes tasks with at most maxConcurrent in flight and
// perTaskTimeout per task (0 means no deadline). It blocks until every
// task finished, timed out, or was skipped due to ctx cancellation, and
// returns results indexed by input position. Completion order between
// tasks is unspecified.
//
// Cancelling ctx stops new tasks from starting; tasks already running
// finish on their own deadline. fn must honor its context.
func Run[T, R any](
	ctx context.Context,
	tasks []T,
	fn func(ctx context.Context, task T) (R, error),
	maxConcurrent int,
	perTaskTimeout time.Duration,
	progress Progress,
) []Result[R] {
	total := len(tasks)
	if total == 0 {
		if progress != nil {
			progress(0, 0, 0, "no tasks")
		}
		return nil
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	results := make([]Result[R], total)
	sem := semaphore.NewWeighted(int64(maxConcurrent))

	var mu sync.Mutex // serializes progress emission
	completed := 0
	emit := func(workerID int, msg string) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		completed++
		progress(completed, total, workerID, msg)
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t T) {
			defer wg.Done()
			workerID := idx%maxConcurrent + 1

			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = Result[R]{Err: fmt.Errorf("task not started: %w", err)}
				emit(workerID, fmt.Sprintf("task %d skipped", idx))
				return
			}
			defer sem.Release(1)

			taskCtx := ctx
			cancel := context.CancelFunc(func() {})
			if perTaskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(ctx, perTaskTimeout)
			}
			value, err := fn(taskCtx, t)
			cancel()

			switch {
			case err == nil:
				results[idx] = Result[R]{Value: value}
				emit(workerID, fmt.Sprintf("task %d ok", idx))
			case errors.Is(err, context.DeadlineExceeded) && taskCtx.Err() == context.DeadlineExceeded:
				results[idx] = Result[R]{Err: ErrTaskTimeout}
				emit(workerID, fmt.Sprintf("task %d timed out", idx))
			default:
				results[idx] = Result[R]{Err: err}
				emit(workerID, fmt.Sprintf("task %d failed: %v", idx, err))
			}
		}(i, task)
	}
	wg.Wait()
	return results
}
