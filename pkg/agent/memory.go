// Package agent implements the reflective refinement loop: a Planner,
// Solver, and Verifier driven by a Sequencer state machine over one
// requirement at a time. Agent turns are recorded as TraceRecords;
// thoughts and critique never leave through client-facing payloads.
package agent

import (
	"sync"

	"github.com/reqforge/reqforge/pkg/llm"
)

// DefaultMemoryLen is the conversation window agents keep by default.
const DefaultMemoryLen = 12

// Memory is a bounded FIFO conversation buffer shared by the agents of
// one session. Overflow drops the oldest message. All methods are safe
// for concurrent use; readers get snapshot copies.
type Memory struct {
	mu       sync.Mutex
	maxLen   int
	messages []llm.Message
}

// NewMemory creates a buffer holding at most maxLen messages. maxLen < 1
// falls back to DefaultMemoryLen.
func NewMemory(maxLen int) *Memory {
	if maxLen < 1 {
		maxLen = DefaultMemoryLen
	}
	return &Memory{maxLen: maxLen}
}

// AddMessage appends one message, evicting the oldest when full.
func (m *Memory) AddMessage(role llm.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, llm.Message{Role: role, Content: content})
	if len(m.messages) > m.maxLen {
		m.messages = m.messages[len(m.messages)-m.maxLen:]
	}
}

// Messages returns a snapshot of the newest limit messages, oldest
// first. limit <= 0 returns everything retained.
func (m *Memory) Messages(limit int) []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len reports how many messages are retained.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Reset drops all retained messages.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
