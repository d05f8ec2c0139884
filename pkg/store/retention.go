package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/reqforge/reqforge/pkg/config"
)

// SweepTask is an additional retention hook run each cycle with the
// event cutoff time.
type SweepTask func(ctx context.Context, cutoff time.Time)

// Sweeper periodically removes persisted stream events past their TTL and
// runs any registered retention hooks. All operations are idempotent and
// safe to run from multiple replicas.
type Sweeper struct {
	cfg    *config.RetentionConfig
	store  *Store
	tasks  []SweepTask
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates the retention sweeper.
func NewSweeper(cfg *config.RetentionConfig, store *Store, logger *slog.Logger) *Sweeper {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "retention"),
	}
}

// AddTask registers an extra retention hook. Call before Start.
func (s *Sweeper) AddTask(task SweepTask) {
	s.tasks = append(s.tasks, task)
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention sweeper started",
		"event_ttl", s.cfg.EventTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one retention cycle. Failures are logged and retried on the
// next tick.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.EventTTL)

	if s.store != nil {
		removed, err := s.store.PruneEventsBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("event pruning failed", "error", err)
		} else if removed > 0 {
			s.logger.Info("pruned stream events", "removed", removed, "cutoff", cutoff)
		}
	}

	for _, task := range s.tasks {
		task(ctx, cutoff)
	}
}
