package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/store"
)

type stubPersistence struct {
	evals    map[string]*models.EvaluationRecord
	rewrites map[string]*models.RewrittenRequirement

	evalReads atomic.Int32
	saveErr   error
}

func newStubPersistence() *stubPersistence {
	return &stubPersistence{
		evals:    make(map[string]*models.EvaluationRecord),
		rewrites: make(map[string]*models.RewrittenRequirement),
	}
}

func (p *stubPersistence) LatestEvaluationByChecksum(_ context.Context, checksum string) (*models.EvaluationRecord, error) {
	p.evalReads.Add(1)
	rec, ok := p.evals[checksum]
	if !ok {
		return nil, fmt.Errorf("evaluation for checksum %s: %w", checksum, store.ErrNotFound)
	}
	return rec, nil
}

func (p *stubPersistence) SaveEvaluation(_ context.Context, eval models.Evaluation, details []models.CriterionScore) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.evals[eval.RequirementChecksum] = &models.EvaluationRecord{Evaluation: eval, Details: details}
	return nil
}

func (p *stubPersistence) LatestRewriteByChecksum(_ context.Context, checksum string) (*models.RewrittenRequirement, error) {
	rw, ok := p.rewrites[checksum]
	if !ok {
		return nil, fmt.Errorf("rewrite for checksum %s: %w", checksum, store.ErrNotFound)
	}
	return rw, nil
}

func (p *stubPersistence) SaveRewrite(_ context.Context, rw *models.RewrittenRequirement) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.rewrites[rw.RequirementChecksum] = rw
	return nil
}

func TestGetLatestByChecksumMissReturnsNil(t *testing.T) {
	c := NewArtifactCache(newStubPersistence(), time.Minute, nil)

	rec, err := c.GetLatestByChecksum(context.Background(), "abc", ScopeEvaluation)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetLatestByChecksumReadsThroughOnce(t *testing.T) {
	p := newStubPersistence()
	checksum := models.Checksum("The system shall export audit logs.")
	p.evals[checksum] = &models.EvaluationRecord{
		Evaluation: models.Evaluation{EvaluationID: "eval-1", RequirementChecksum: checksum, Score: 0.9, Verdict: models.VerdictPass},
	}
	c := NewArtifactCache(p, time.Minute, nil)

	for i := 0; i < 3; i++ {
		rec, err := c.GetLatestByChecksum(context.Background(), checksum, ScopeEvaluation)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "eval-1", rec.Evaluation.Evaluation.EvaluationID)
	}

	// First call hits persistence, the rest are served from the memo.
	assert.EqualValues(t, 1, p.evalReads.Load())
}

func TestPutWritesThroughAndFillsMemo(t *testing.T) {
	p := newStubPersistence()
	c := NewArtifactCache(p, time.Minute, nil)
	checksum := models.Checksum("The system shall retry failed exports.")

	rec := &Record{
		Scope:    ScopeEvaluation,
		Checksum: checksum,
		Evaluation: &models.EvaluationRecord{
			Evaluation: models.Evaluation{EvaluationID: "eval-2", RequirementChecksum: checksum, Score: 0.75, Verdict: models.VerdictPass},
			Details:    []models.CriterionScore{{CriterionKey: "clarity", Score: 0.75, Passed: true}},
		},
	}
	require.NoError(t, c.Put(context.Background(), rec))

	// Persisted.
	saved, err := p.LatestEvaluationByChecksum(context.Background(), checksum)
	require.NoError(t, err)
	assert.Equal(t, "eval-2", saved.Evaluation.EvaluationID)

	// Memo hit: the read above was the only persistence read.
	got, err := c.GetLatestByChecksum(context.Background(), checksum, ScopeEvaluation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, p.evalReads.Load())
}

func TestPutRejectsMismatchedPayload(t *testing.T) {
	c := NewArtifactCache(newStubPersistence(), time.Minute, nil)

	err := c.Put(context.Background(), &Record{Scope: ScopeEvaluation, Checksum: "abc"})
	assert.Error(t, err)

	err = c.Put(context.Background(), &Record{Scope: Scope("bogus"), Checksum: "abc"})
	assert.Error(t, err)
}

func TestRewriteScopeRoundTrip(t *testing.T) {
	p := newStubPersistence()
	c := NewArtifactCache(p, time.Minute, nil)
	checksum := models.Checksum("The system should be fast.")

	rw := &models.RewrittenRequirement{
		ReqID:               "REQ-ab12cd-001",
		RequirementChecksum: checksum,
		RewrittenText:       "The system shall respond within 500ms.",
		Attempt:             1,
	}
	require.NoError(t, c.Put(context.Background(), &Record{Scope: ScopeRewrite, Checksum: checksum, Rewrite: rw}))

	got, err := c.GetLatestByChecksum(context.Background(), checksum, ScopeRewrite)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "The system shall respond within 500ms.", got.Rewrite.RewrittenText)
}

func TestExpiredEntryFallsThrough(t *testing.T) {
	p := newStubPersistence()
	checksum := models.Checksum("ttl requirement")
	p.evals[checksum] = &models.EvaluationRecord{
		Evaluation: models.Evaluation{EvaluationID: "eval-3", RequirementChecksum: checksum},
	}
	c := NewArtifactCache(p, time.Millisecond, nil)

	_, err := c.GetLatestByChecksum(context.Background(), checksum, ScopeEvaluation)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = c.GetLatestByChecksum(context.Background(), checksum, ScopeEvaluation)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.evalReads.Load())
}

func TestInvalidateDropsMemo(t *testing.T) {
	p := newStubPersistence()
	checksum := models.Checksum("invalidate me")
	p.evals[checksum] = &models.EvaluationRecord{
		Evaluation: models.Evaluation{EvaluationID: "eval-4", RequirementChecksum: checksum},
	}
	c := NewArtifactCache(p, time.Minute, nil)

	_, err := c.GetLatestByChecksum(context.Background(), checksum, ScopeEvaluation)
	require.NoError(t, err)

	c.Invalidate(ScopeEvaluation, checksum)

	_, err = c.GetLatestByChecksum(context.Background(), checksum, ScopeEvaluation)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.evalReads.Load())
}
