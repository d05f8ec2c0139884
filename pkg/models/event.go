package models

import (
	"encoding/json"
	"time"
)

// EventType discriminates client-facing stream events.
type EventType string

const (
	// EventWorkflowStatus signals a run-level status transition. Critical:
	// never dropped under back-pressure.
	EventWorkflowStatus EventType = "workflow_status"
	// EventAgentMessage carries stage progress prose. Droppable under a
	// slow client.
	EventAgentMessage EventType = "agent_message"
	// EventWorkflowResult carries the final aggregated payload. Critical.
	EventWorkflowResult EventType = "workflow_result"
	// EventClarificationQuestion asks the client a guided-mode question.
	// Critical.
	EventClarificationQuestion EventType = "clarification_question"
)

// Critical reports whether events of this type must survive back-pressure.
func (t EventType) Critical() bool {
	return t != EventAgentMessage
}

// WorkflowStatus values carried by workflow_status events.
const (
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

// Event is one persisted, streamable envelope. ID is assigned by the store
// and doubles as the SSE catch-up cursor.
type Event struct {
	ID        int64           `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Type      EventType       `json:"type" db:"type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// WorkflowStatusPayload reports a session status transition.
type WorkflowStatusPayload struct {
	Status    string `json:"status"`              // running | completed | failed
	Error     string `json:"error,omitempty"`     // set when status=failed
	Timestamp string `json:"timestamp,omitempty"` // RFC3339Nano
}

// AgentMessagePayload is stage progress prose from one agent.
type AgentMessagePayload struct {
	Agent     string `json:"agent"`     // originating agent name
	Message   string `json:"message"`   // human-readable progress line
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// WorkflowResultPayload wraps the final aggregated report.
type WorkflowResultPayload struct {
	Result    PipelineReport `json:"result"`
	Timestamp string         `json:"timestamp,omitempty"` // RFC3339Nano
}

// ClarificationPayload wraps a guided-mode question.
type ClarificationPayload struct {
	Question ClarificationQuestion `json:"question"`
}

// PipelineReport is the final aggregate of one full pipeline run.
type PipelineReport struct {
	SessionID    string              `json:"session_id"`
	Requirements []Requirement       `json:"requirements"`
	Validation   *BatchResult        `json:"validation,omitempty"`
	Rewrites     *BatchRewriteResult `json:"rewrites,omitempty"`
	KG           *KGStats            `json:"kg,omitempty"`
	Duplicates   *DedupResult        `json:"duplicates,omitempty"`
	TotalTimeMs  int64               `json:"total_time_ms"`
}
