package models

import "time"

// TraceRecord captures one agent turn's full sectioned output. Thoughts and
// critique are audit-only: they are persisted and fed back into the agent
// conversation but never leave through the client-facing stream.
type TraceRecord struct {
	ReqID       string         `json:"req_id"`
	SessionID   string         `json:"session_id"`
	AgentType   string         `json:"agent_type"`
	Thoughts    string         `json:"thoughts,omitempty"`
	Plan        string         `json:"plan,omitempty"`
	Evidence    string         `json:"evidence,omitempty"`
	FinalAnswer string         `json:"final_answer,omitempty"`
	Critique    string         `json:"critique,omitempty"`
	Decision    string         `json:"decision,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// UIPayload returns the client-safe projection of this trace: the final
// answer if non-empty, else the decision, else empty. Thoughts and critique
// are structurally excluded.
func (t TraceRecord) UIPayload() string {
	if t.FinalAnswer != "" {
		return t.FinalAnswer
	}
	return t.Decision
}

// TraceView is the client-safe projection of one trace turn. It never
// carries thoughts or critique.
type TraceView struct {
	ReqID     string    `json:"req_id"`
	SessionID string    `json:"session_id"`
	AgentType string    `json:"agent_type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// View returns the sanitized projection of this trace.
func (t TraceRecord) View() TraceView {
	return TraceView{
		ReqID:     t.ReqID,
		SessionID: t.SessionID,
		AgentType: t.AgentType,
		Payload:   t.UIPayload(),
		CreatedAt: t.CreatedAt,
	}
}

// UIPayloadFor collapses a trace history to its client-safe projection: the
// last non-empty final answer, else the last non-empty decision, else empty.
func UIPayloadFor(traces []TraceRecord) string {
	for i := len(traces) - 1; i >= 0; i-- {
		if traces[i].FinalAnswer != "" {
			return traces[i].FinalAnswer
		}
	}
	for i := len(traces) - 1; i >= 0; i-- {
		if traces[i].Decision != "" {
			return traces[i].Decision
		}
	}
	return ""
}
