// Package integration exercises the artifact cache against a real
// PostgreSQL instance, verifying read-through, write-through, and
// invalidation semantics end to end.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reqforge/reqforge/pkg/cache"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

// newPostgresStore opens a migrated store against either the CI service
// container (CI_DATABASE_URL) or a local testcontainer.
func newPostgresStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	if connStr := os.Getenv("CI_DATABASE_URL"); connStr != "" {
		t.Skip("external CI database is exercised by the store package tests")
	}
	if !dockerAvailable() {
		t.Skip("Docker not available")
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	s, err := store.Open(ctx, store.Config{
		Host:         host,
		Port:         port.Int(),
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// dockerAvailable reports whether a Docker daemon is reachable, so
// testcontainers-backed tests can skip instead of panicking on
// container-less machines.
func dockerAvailable() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	cli, err := testcontainers.NewDockerClientWithOpts(context.Background())
	if err != nil {
		return false
	}
	defer cli.Close()
	_, err = cli.Ping(context.Background())
	return err == nil
}

func sampleEvaluation(text string, score float64) (models.Evaluation, []models.CriterionScore) {
	eval := models.Evaluation{
		EvaluationID:        uuid.New().String(),
		RequirementChecksum: models.Checksum(text),
		RequirementText:     text,
		Score:               score,
		Verdict:             models.VerdictPass,
		ModelID:             "test-model",
		LatencyMs:           12,
		CreatedAt:           time.Now().UTC(),
	}
	details := []models.CriterionScore{
		{CriterionKey: "clarity", Score: score, Passed: score >= 0.7, Feedback: "ok"},
	}
	return eval, details
}

func TestCacheReadThroughFromPostgres(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	c := cache.NewArtifactCache(s, time.Minute, nil)

	text := "The system shall respond within 200 milliseconds."
	eval, details := sampleEvaluation(text, 0.85)
	require.NoError(t, s.SaveEvaluation(ctx, eval, details))

	rec, err := c.GetLatestByChecksum(ctx, eval.RequirementChecksum, cache.ScopeEvaluation)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Evaluation)
	assert.Equal(t, eval.EvaluationID, rec.Evaluation.Evaluation.EvaluationID)
	assert.Len(t, rec.Evaluation.Details, 1)

	// Deleting the row behind the cache's back proves the second read is
	// served from the memo, not the database.
	_, err = s.DB().ExecContext(ctx, `DELETE FROM evaluation_details`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `DELETE FROM evaluations`)
	require.NoError(t, err)

	rec, err = c.GetLatestByChecksum(ctx, eval.RequirementChecksum, cache.ScopeEvaluation)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, eval.EvaluationID, rec.Evaluation.Evaluation.EvaluationID)
}

func TestCachePutWritesThroughToPostgres(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	c := cache.NewArtifactCache(s, time.Minute, nil)

	original := "Passwords expire."
	rw := &models.RewrittenRequirement{
		ReqID:               "REQ-cafe01-000",
		RequirementChecksum: models.Checksum(original),
		OriginalText:        original,
		RewrittenText:       "User passwords shall expire after 90 days.",
		AddressedCriteria:   "measurability",
		Attempt:             1,
		NewScore:            0.9,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, c.Put(ctx, &cache.Record{
		Scope:    cache.ScopeRewrite,
		Checksum: rw.RequirementChecksum,
		Rewrite:  rw,
	}))

	// A second cache over the same store sees the row, so the write went
	// through to PostgreSQL rather than stopping at the memo.
	fresh := cache.NewArtifactCache(s, time.Minute, nil)
	rec, err := fresh.GetLatestByChecksum(ctx, rw.RequirementChecksum, cache.ScopeRewrite)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Rewrite)
	assert.Equal(t, rw.RewrittenText, rec.Rewrite.RewrittenText)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	c := cache.NewArtifactCache(s, time.Minute, nil)

	text := "The admin shall be able to export audit logs."
	first, details := sampleEvaluation(text, 0.6)
	require.NoError(t, s.SaveEvaluation(ctx, first, details))

	rec, err := c.GetLatestByChecksum(ctx, first.RequirementChecksum, cache.ScopeEvaluation)
	require.NoError(t, err)
	require.NotNil(t, rec)

	second, details := sampleEvaluation(text, 0.95)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.SaveEvaluation(ctx, second, details))

	// Memo still holds the first evaluation until invalidated.
	rec, err = c.GetLatestByChecksum(ctx, first.RequirementChecksum, cache.ScopeEvaluation)
	require.NoError(t, err)
	assert.Equal(t, first.EvaluationID, rec.Evaluation.Evaluation.EvaluationID)

	c.Invalidate(cache.ScopeEvaluation, first.RequirementChecksum)

	rec, err = c.GetLatestByChecksum(ctx, first.RequirementChecksum, cache.ScopeEvaluation)
	require.NoError(t, err)
	assert.Equal(t, second.EvaluationID, rec.Evaluation.Evaluation.EvaluationID)
}
