// Package cache deduplicates recomputation of per-requirement artifacts by
// content checksum.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

// Scope selects which artifact family a record belongs to.
type Scope string

const (
	ScopeEvaluation Scope = "evaluation"
	ScopeRewrite    Scope = "rewrite"
)

// Record is one cached artifact. Exactly one of Evaluation or Rewrite is set,
// matching Scope.
type Record struct {
	Scope    Scope
	Checksum string

	Evaluation *models.EvaluationRecord
	Rewrite    *models.RewrittenRequirement
}

// Persistence is the slice of the store the cache reads through to.
type Persistence interface {
	LatestEvaluationByChecksum(ctx context.Context, checksum string) (*models.EvaluationRecord, error)
	SaveEvaluation(ctx context.Context, eval models.Evaluation, details []models.CriterionScore) error
	LatestRewriteByChecksum(ctx context.Context, checksum string) (*models.RewrittenRequirement, error)
	SaveRewrite(ctx context.Context, rw *models.RewrittenRequirement) error
}

var _ Persistence = (*store.Store)(nil)

// entry holds a cached record with a timestamp for TTL expiration.
type entry struct {
	record    *Record
	fetchedAt time.Time
}

// ArtifactCache is a thread-safe read-through cache over Persistence.
// Expired entries are cleaned up lazily on Get; there is no background
// goroutine.
type ArtifactCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration

	persistence Persistence
	logger      *slog.Logger
}

// NewArtifactCache creates a cache backed by the given persistence layer.
func NewArtifactCache(persistence Persistence, ttl time.Duration, logger *slog.Logger) *ArtifactCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactCache{
		entries:     make(map[string]*entry),
		ttl:         ttl,
		persistence: persistence,
		logger:      logger.With("component", "artifact_cache"),
	}
}

func cacheKey(scope Scope, checksum string) string {
	return string(scope) + ":" + checksum
}

// GetLatestByChecksum returns the latest artifact for a checksum within the
// given scope, or nil when none exists. Memory is consulted first; misses
// fall through to persistence and refill the memo.
func (c *ArtifactCache) GetLatestByChecksum(ctx context.Context, checksum string, scope Scope) (*Record, error) {
	key := cacheKey(scope, checksum)

	if rec, ok := c.lookup(key); ok {
		return rec, nil
	}

	rec, err := c.load(ctx, checksum, scope)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	c.fill(key, rec)
	return rec, nil
}

// Put writes an artifact through to persistence and refreshes the memo.
func (c *ArtifactCache) Put(ctx context.Context, rec *Record) error {
	switch rec.Scope {
	case ScopeEvaluation:
		if rec.Evaluation == nil {
			return fmt.Errorf("evaluation record missing payload")
		}
		if err := c.persistence.SaveEvaluation(ctx, rec.Evaluation.Evaluation, rec.Evaluation.Details); err != nil {
			return err
		}
	case ScopeRewrite:
		if rec.Rewrite == nil {
			return fmt.Errorf("rewrite record missing payload")
		}
		if err := c.persistence.SaveRewrite(ctx, rec.Rewrite); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown cache scope %q", rec.Scope)
	}

	c.fill(cacheKey(rec.Scope, rec.Checksum), rec)
	return nil
}

// Invalidate drops the memo entry for one checksum within a scope. The next
// Get falls through to persistence.
func (c *ArtifactCache) Invalidate(scope Scope, checksum string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(scope, checksum))
	c.mu.Unlock()
}

func (c *ArtifactCache) lookup(key string) (*Record, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(e.fetchedAt) > c.ttl {
		// Expired; clean up lazily.
		// Re-check under write lock: a concurrent fill may have replaced the
		// entry with a fresh one between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.record, true
}

func (c *ArtifactCache) fill(key string, rec *Record) {
	c.mu.Lock()
	c.entries[key] = &entry{record: rec, fetchedAt: time.Now()}
	c.mu.Unlock()
}

func (c *ArtifactCache) load(ctx context.Context, checksum string, scope Scope) (*Record, error) {
	switch scope {
	case ScopeEvaluation:
		eval, err := c.persistence.LatestEvaluationByChecksum(ctx, checksum)
		if err != nil {
			return nil, err
		}
		return &Record{Scope: scope, Checksum: checksum, Evaluation: eval}, nil
	case ScopeRewrite:
		rw, err := c.persistence.LatestRewriteByChecksum(ctx, checksum)
		if err != nil {
			return nil, err
		}
		return &Record{Scope: scope, Checksum: checksum, Rewrite: rw}, nil
	default:
		return nil, fmt.Errorf("unknown cache scope %q", scope)
	}
}
