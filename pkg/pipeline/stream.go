// Package pipeline sequences the full requirements run: mining,
// persistence, knowledge-graph build and validation in parallel,
// feedback rewriting, revalidation, duplicate detection, and the final
// report. Progress streams to the client over a bounded per-session
// queue; every event is also persisted for reconnect catch-up.
package pipeline

import (
	"context"
	"sync"

	"github.com/reqforge/reqforge/pkg/models"
)

// Stream is one session's bounded event queue. Critical events
// (workflow_status, workflow_result, clarification_question) are never
// dropped; under back-pressure the oldest agent_message makes room first.
type Stream struct {
	mu     sync.Mutex
	queue  []models.Event
	maxLen int
	notify chan struct{}
	closed bool
}

func newStream(maxLen int) *Stream {
	if maxLen < 1 {
		maxLen = 1
	}
	return &Stream{
		maxLen: maxLen,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues one event. When the queue is full a non-critical event
// evicts the oldest droppable entry, or is itself dropped if nothing in
// the queue is droppable. Critical events always enter, exceeding the
// bound if they must.
func (s *Stream) push(evt models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.queue) >= s.maxLen {
		if evt.Type.Critical() {
			s.queue = append(s.queue, evt)
			s.wake()
			return
		}
		if !s.evictOldestDroppable() {
			return
		}
	}
	s.queue = append(s.queue, evt)
	s.wake()
}

// evictOldestDroppable removes the oldest non-critical queued event.
func (s *Stream) evictOldestDroppable() bool {
	for i, queued := range s.queue {
		if !queued.Type.Critical() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the stream is closed and
// drained, or ctx ends. The second return value is false when no more
// events will come.
func (s *Stream) Next(ctx context.Context) (models.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return evt, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return models.Event{}, false
		}

		select {
		case <-ctx.Done():
			return models.Event{}, false
		case <-s.notify:
		}
	}
}

// Close marks the stream finished. Queued events remain readable.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Len reports how many events are queued.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
