package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reqforge/reqforge/pkg/models"
)

// Session is one pipeline run: its event stream, cancellation handle, and
// terminal state. Sessions stay registered after completion so clients can
// fetch the result and replay events; the retention sweeper reclaims them.
type Session struct {
	ID        string
	Stream    *Stream
	CreatedAt time.Time

	cancel context.CancelFunc

	mu       sync.Mutex
	status   string
	errMsg   string
	report   *models.PipelineReport
	pending  *models.ClarificationQuestion
	answerCh chan string
}

// Status returns the session's run status and, for failed runs, the error.
func (s *Session) Status() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.errMsg
}

func (s *Session) setStatus(status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.errMsg = errMsg
}

// Report returns the final aggregated payload, nil while running.
func (s *Session) Report() *models.PipelineReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

func (s *Session) setReport(r *models.PipelineReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = r
}

// PendingQuestion returns the outstanding clarification, if any.
func (s *Session) PendingQuestion() *models.ClarificationQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Answer resolves the pending clarification. At most one question is
// outstanding per session.
func (s *Session) Answer(answer string) error {
	s.mu.Lock()
	ch := s.answerCh
	s.pending = nil
	s.answerCh = nil
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("session %s has no pending clarification", s.ID)
	}
	ch <- answer
	return nil
}

// ask registers a pending question and returns the channel its answer
// will arrive on.
func (s *Session) ask(q models.ClarificationQuestion) <-chan string {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.pending = &q
	s.answerCh = ch
	s.mu.Unlock()
	return ch
}

// clearPending drops an unanswered question after its timeout.
func (s *Session) clearPending() {
	s.mu.Lock()
	s.pending = nil
	s.answerCh = nil
	s.mu.Unlock()
}

// Manager tracks the live sessions of this process.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	queueSize int
	logger    *slog.Logger
}

// NewManager creates the session registry. queueSize bounds each
// session's event queue.
func NewManager(queueSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
		logger:    logger.With("component", "sessions"),
	}
}

// Create registers a new session and returns it together with its
// cancellable run context.
func (m *Manager) Create(parent context.Context) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:        uuid.New().String(),
		Stream:    newStream(m.queueSize),
		CreatedAt: time.Now().UTC(),
		cancel:    cancel,
		status:    models.WorkflowRunning,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("session created", "session_id", s.ID)
	return s, ctx
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Cancel aborts a session's run. Reports whether the session existed.
func (m *Manager) Cancel(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	m.logger.Info("session canceled", "session_id", id)
	s.cancel()
	return true
}

// Remove forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// PruneFinished forgets sessions that reached a terminal state before
// cutoff. Returns how many were removed.
func (m *Manager) PruneFinished(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		status, _ := s.Status()
		if status != models.WorkflowRunning && s.CreatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("pruned finished sessions", "removed", removed)
	}
	return removed
}

// ActiveCount reports how many sessions are still running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if status, _ := s.Status(); status == models.WorkflowRunning {
			n++
		}
	}
	return n
}
