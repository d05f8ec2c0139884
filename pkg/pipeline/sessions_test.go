package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/models"
)

func TestManagerCreateRegistersRunningSession(t *testing.T) {
	m := NewManager(16, nil)
	s, ctx := m.Create(context.Background())

	require.NotEmpty(t, s.ID)
	require.NotNil(t, s.Stream)
	require.NoError(t, ctx.Err())

	status, errMsg := s.Status()
	assert.Equal(t, models.WorkflowRunning, status)
	assert.Empty(t, errMsg)

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestManagerCancelAbortsRunContext(t *testing.T) {
	m := NewManager(16, nil)
	s, ctx := m.Create(context.Background())

	require.True(t, m.Cancel(s.ID))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context not canceled")
	}
	assert.False(t, m.Cancel("no-such-session"))
}

func TestManagerRemoveForgetsSession(t *testing.T) {
	m := NewManager(16, nil)
	s, _ := m.Create(context.Background())

	m.Remove(s.ID)
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestActiveCountExcludesFinishedSessions(t *testing.T) {
	m := NewManager(16, nil)
	a, _ := m.Create(context.Background())
	m.Create(context.Background())

	a.setStatus(models.WorkflowCompleted, "")
	assert.Equal(t, 1, m.ActiveCount())
}

func TestPruneFinishedKeepsRunningSessions(t *testing.T) {
	m := NewManager(16, nil)
	running, _ := m.Create(context.Background())
	finished, _ := m.Create(context.Background())
	finished.setStatus(models.WorkflowCompleted, "")

	removed := m.PruneFinished(time.Now().Add(time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := m.Get(running.ID)
	assert.True(t, ok)
	_, ok = m.Get(finished.ID)
	assert.False(t, ok)
}

func TestPruneFinishedHonorsCutoff(t *testing.T) {
	m := NewManager(16, nil)
	recent, _ := m.Create(context.Background())
	recent.setStatus(models.WorkflowCompleted, "")

	removed := m.PruneFinished(time.Now().Add(-time.Minute))
	assert.Zero(t, removed)
	_, ok := m.Get(recent.ID)
	assert.True(t, ok)
}

func TestSessionAnswerWithoutPendingFails(t *testing.T) {
	m := NewManager(16, nil)
	s, _ := m.Create(context.Background())

	err := s.Answer("yes")
	assert.Error(t, err)
}

func TestSessionAskAnswerRoundTrip(t *testing.T) {
	m := NewManager(16, nil)
	s, _ := m.Create(context.Background())

	q := models.ClarificationQuestion{
		QuestionID:  "q-1",
		SessionID:   s.ID,
		Question:    "Rewrite failing requirements?",
		Suggestions: []string{"yes", "no"},
	}
	ch := s.ask(q)

	pending := s.PendingQuestion()
	require.NotNil(t, pending)
	assert.Equal(t, "q-1", pending.QuestionID)

	require.NoError(t, s.Answer("no"))
	assert.Nil(t, s.PendingQuestion())

	select {
	case answer := <-ch:
		assert.Equal(t, "no", answer)
	case <-time.After(time.Second):
		t.Fatal("answer not delivered")
	}
}

func TestSessionClearPendingDropsQuestion(t *testing.T) {
	m := NewManager(16, nil)
	s, _ := m.Create(context.Background())

	s.ask(models.ClarificationQuestion{QuestionID: "q-1"})
	s.clearPending()

	assert.Nil(t, s.PendingQuestion())
	assert.Error(t, s.Answer("yes"))
}

func TestSessionReportOnlyAfterCompletion(t *testing.T) {
	m := NewManager(16, nil)
	s, _ := m.Create(context.Background())

	assert.Nil(t, s.Report())
	s.setReport(&models.PipelineReport{SessionID: s.ID})
	require.NotNil(t, s.Report())
	assert.Equal(t, s.ID, s.Report().SessionID)
}
