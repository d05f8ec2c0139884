// Package workbench is the explicit tool registry the reflection agents
// call into. Tools are registered by name at startup; invocation failures
// come back as error-status results, never as Go errors, so a broken tool
// degrades a single reflection round instead of aborting the session.
package workbench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status classifies one tool invocation outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// ToolResult is what a tool call produces. Error is set only for
// non-success statuses.
type ToolResult struct {
	Status  Status `json:"status"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolInfo describes one registered tool for prompt construction.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Handler executes one tool call. A returned error becomes an
// error-status ToolResult.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Workbench holds the registered tools. Register everything at startup;
// Call is safe for concurrent use afterwards.
type Workbench struct {
	mu          sync.RWMutex
	tools       map[string]registration
	order       []string
	callTimeout time.Duration
	logger      *slog.Logger
}

type registration struct {
	info    ToolInfo
	handler Handler
}

// New creates an empty workbench. callTimeout bounds every Call; zero
// means 30 seconds.
func New(callTimeout time.Duration, logger *slog.Logger) *Workbench {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbench{
		tools:       make(map[string]registration),
		callTimeout: callTimeout,
		logger:      logger.With("component", "workbench"),
	}
}

// Register adds a tool under a unique name.
func (w *Workbench) Register(name, description string, schema map[string]any, h Handler) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	w.tools[name] = registration{
		info:    ToolInfo{Name: name, Description: description, Schema: schema},
		handler: h,
	}
	w.order = append(w.order, name)
	return nil
}

// List returns the registered tools in registration order.
func (w *Workbench) List() []ToolInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ToolInfo, 0, len(w.order))
	for _, name := range w.order {
		out = append(out, w.tools[name].info)
	}
	return out
}

// Call invokes a tool by name. Unknown tools, handler errors, handler
// panics, and deadline overruns all come back inside the ToolResult.
func (w *Workbench) Call(ctx context.Context, name string, args map[string]any) ToolResult {
	w.mu.RLock()
	reg, ok := w.tools[name]
	w.mu.RUnlock()
	if !ok {
		return ToolResult{Status: StatusError, Error: fmt.Sprintf("unknown tool %q", name)}
	}

	ctx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		content, err := reg.handler(ctx, args)
		done <- outcome{content: content, err: err}
	}()

	select {
	case <-ctx.Done():
		w.logger.Warn("tool call timed out", "tool", name, "timeout", w.callTimeout)
		return ToolResult{Status: StatusTimeout, Error: fmt.Sprintf("tool %q timed out after %s", name, w.callTimeout)}
	case res := <-done:
		if res.err != nil {
			w.logger.Warn("tool call failed", "tool", name, "error", res.err)
			return ToolResult{Status: StatusError, Error: res.err.Error()}
		}
		return ToolResult{Status: StatusSuccess, Content: res.content}
	}
}
