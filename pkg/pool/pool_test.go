package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunResultsArepositional(t *testing.T) {
	tasks := []int{0, 1, 2, 3, 4, 5, 6, 7}
	results := Run(context.Background(), tasks, func(ctx context.Context, n int) (int, error) {
		// Later tasks finish first to shuffle completion order.
		time.Sleep(time.Duration(len(tasks)-n) * time.Millisecond)
		return n * 2, nil
	}, 4, time.Second, nil)

	require.Len(t, results, len(tasks))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i*2, r.Value)
	}
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	const bound = 3
	var inFlight, maxSeen int32
	tasks := make([]int, 20)

	Run(context.Background(), tasks, func(ctx context.Context, _ int) (struct{}, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if cur <= old || atomic.CompareAndSwapInt32(&maxSeen, old, cur) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}, nil
	}, bound, time.Second, nil)

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(bound))
	assert.Positive(t, atomic.LoadInt32(&maxSeen))
}

func TestRunTaskTimeout(t *testing.T) {
	tasks := []int{0, 1, 2}
	results := Run(context.Background(), tasks, func(ctx context.Context, n int) (string, error) {
		if n == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return fmt.Sprintf("ok-%d", n), nil
	}, 3, 20*time.Millisecond, nil)

	require.NoError(t, results[0].Err)
	require.NoError(t, results[2].Err)
	assert.ErrorIs(t, results[1].Err, ErrTaskTimeout)
	assert.Equal(t, "ok-0", results[0].Value)
	assert.Equal(t, "ok-2", results[2].Value)
}

func TestRunIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	tasks := []int{0, 1, 2, 3}
	results := Run(context.Background(), tasks, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	}, 2, time.Second, nil)

	assert.ErrorIs(t, results[2].Err, boom)
	for _, i := range []int{0, 1, 3} {
		assert.NoError(t, results[i].Err)
	}
}

func TestRunProgressFinalExactlyOnce(t *testing.T) {
	type call struct{ completed, total int }
	var mu sync.Mutex
	var calls []call

	tasks := make([]int, 9)
	Run(context.Background(), tasks, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, nil
	}, 4, time.Second, func(completed, total, workerID int, msg string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{completed, total})
	})

	require.Len(t, calls, 9)
	finals := 0
	for i, c := range calls {
		assert.Equal(t, 9, c.total)
		assert.Equal(t, i+1, c.completed) // monotonically increasing
		if c.completed == c.total {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestRunEmptyTasks(t *testing.T) {
	var calls int
	results := Run(context.Background(), nil, func(ctx context.Context, _ int) (int, error) {
		return 0, nil
	}, 5, time.Second, func(completed, total, workerID int, msg string) {
		calls++
		assert.Equal(t, 0, completed)
		assert.Equal(t, 0, total)
	})
	assert.Nil(t, results)
	assert.Equal(t, 1, calls)
}

func TestRunStopsStartingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	var ran int32

	tasks := make([]int, 10)
	go func() {
		<-started
		cancel()
	}()
	results := Run(ctx, tasks, func(c context.Context, _ int) (struct{}, error) {
		atomic.AddInt32(&ran, 1)
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(10 * time.Millisecond)
		return struct{}{}, nil
	}, 1, time.Second, nil)

	require.Len(t, results, 10)
	var skipped int
	for _, r := range results {
		if r.Err != nil && errors.Is(r.Err, context.Canceled) {
			skipped++
		}
	}
	// With one permit and an early cancel, most tasks never start.
	assert.Positive(t, skipped)
	assert.Less(t, int(atomic.LoadInt32(&ran)), 10)
}
