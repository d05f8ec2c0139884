package llm

import (
	"context"
	"sync"
)

// StubCall records one Complete invocation against a StubClient.
type StubCall struct {
	Messages []Message
	Opts     CompleteOptions
}

// StubClient is a deterministic in-memory ChatClient for tests. Responses
// are returned in order; when exhausted, the last one repeats. Fn, when
// set, takes precedence over Responses. Safe for concurrent use.
type StubClient struct {
	mu        sync.Mutex
	Responses []*Completion
	Err       error
	Fn        func(messages []Message, opts CompleteOptions) (*Completion, error)

	calls []StubCall
	next  int
}

var _ ChatClient = (*StubClient)(nil)

// Complete returns the next scripted response.
func (s *StubClient) Complete(_ context.Context, messages []Message, opts CompleteOptions) (*Completion, error) {
	s.mu.Lock()
	s.calls = append(s.calls, StubCall{Messages: messages, Opts: opts})

	if s.Err != nil {
		s.mu.Unlock()
		return nil, s.Err
	}
	if fn := s.Fn; fn != nil {
		// Release the lock before running the callback so concurrent
		// Complete calls are not serialized by it.
		s.mu.Unlock()
		return fn(messages, opts)
	}
	defer s.mu.Unlock()
	if len(s.Responses) == 0 {
		return &Completion{Content: "", ModelID: "stub"}, nil
	}
	idx := s.next
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	} else {
		s.next++
	}
	return s.Responses[idx], nil
}

// Calls returns a snapshot of recorded invocations.
func (s *StubClient) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Complete ran.
func (s *StubClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
