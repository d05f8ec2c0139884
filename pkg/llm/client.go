// Package llm defines the chat-completion boundary the agents talk
// through. Completions are blocking calls with the caller's deadline; tool
// calls come back as typed values, and transport failures surface as
// ErrUpstreamUnavailable after bounded retry.
package llm

import (
	"context"
	"errors"
)

// ErrUpstreamUnavailable marks an LLM endpoint that stayed unreachable
// after retries. Handlers map it to a 503-class response.
var ErrUpstreamUnavailable = errors.New("llm upstream unavailable")

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a function-call tool offered to the model.
// Parameters is a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is the model's request to invoke a tool. Arguments is the raw
// JSON string exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompleteOptions tune a single completion call.
type CompleteOptions struct {
	// Temperature for sampling. The delegators pin low values for
	// reproducibility.
	Temperature float64

	// Tools offered to the model for this call.
	Tools []ToolDefinition

	// ForceTool asks the provider to call the first tool rather than
	// answer in prose. Providers may ignore it; callers keep a JSON
	// fallback for that case.
	ForceTool bool

	// MaxTokens caps the response length when positive.
	MaxTokens int
}

// Completion is the model's reply: prose content and/or tool calls.
type Completion struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ModelID   string     `json:"model_id"`
}

// ChatClient is the single interface the rest of the system uses to reach
// the LLM provider.
type ChatClient interface {
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (*Completion, error)
}
