package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reqforge/reqforge/pkg/bus"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/vector"
	"github.com/reqforge/reqforge/pkg/workbench"
)

// Task is one refinement assignment: a requirement plus what to do with it.
type Task struct {
	SessionID   string
	ReqID       string
	Requirement string
	Instruction string
}

// TraceSink receives completed agent turns for audit persistence. Sink
// failures degrade audit, never the loop.
type TraceSink interface {
	Save(ctx context.Context, rec models.TraceRecord) error
}

// Planner produces a refinement plan for one requirement.
type Planner struct {
	chat   llm.ChatClient
	traces TraceSink
	bus    *bus.Bus
	logger *slog.Logger
}

// NewPlanner creates the planner. traces and b may be nil.
func NewPlanner(chat llm.ChatClient, traces TraceSink, b *bus.Bus, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{chat: chat, traces: traces, bus: b, logger: logger.With("component", "planner")}
}

const plannerSystemPrompt = `You are the planner of a requirements refinement loop.
Given a requirement and a task, produce your reasoning and a concrete plan.
Answer with exactly these sections:
THOUGHTS: your reasoning
PLAN: numbered steps the solver should follow`

// Plan runs one planner turn.
func (p *Planner) Plan(ctx context.Context, task Task, mem *Memory) (models.TraceRecord, error) {
	messages := append(mem.Messages(0), llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Requirement %s: %s\n\nTask: %s", task.ReqID, task.Requirement, task.Instruction),
	})
	messages = append([]llm.Message{{Role: llm.RoleSystem, Content: plannerSystemPrompt}}, messages...)

	completion, err := p.chat.Complete(ctx, messages, llm.CompleteOptions{Temperature: 0.3})
	if err != nil {
		return models.TraceRecord{}, fmt.Errorf("planner completion failed: %w", err)
	}

	blocks := ParseBlocks(completion.Content)
	rec := models.TraceRecord{
		ReqID:     task.ReqID,
		SessionID: task.SessionID,
		AgentType: "planner",
		Thoughts:  blocks.Thoughts,
		Plan:      blocks.Plan,
		CreatedAt: time.Now().UTC(),
	}
	mem.AddMessage(llm.RoleAssistant, completion.Content)
	saveTrace(ctx, p.traces, rec, p.logger)
	publish(ctx, p.bus, bus.TopicSolve, task, "planner", blocks.Plan)
	return rec, nil
}

// Solver produces a refined requirement with supporting evidence. It may
// route one tool call through the workbench per turn; the tool result
// feeds a second completion whose output supersedes the first.
type Solver struct {
	chat     llm.ChatClient
	bench    *workbench.Workbench
	embedder embed.Embedder
	store    vector.Store
	traces   TraceSink
	bus      *bus.Bus
	topK     int
	logger   *slog.Logger
}

// NewSolver creates the solver. bench, embedder, store, traces, and b may
// each be nil; missing collaborators disable the corresponding step.
func NewSolver(chat llm.ChatClient, bench *workbench.Workbench, embedder embed.Embedder, store vector.Store, traces TraceSink, b *bus.Bus, topK int, logger *slog.Logger) *Solver {
	if topK < 1 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		chat:     chat,
		bench:    bench,
		embedder: embedder,
		store:    store,
		traces:   traces,
		bus:      b,
		topK:     topK,
		logger:   logger.With("component", "solver"),
	}
}

const solverSystemPrompt = `You are the solver of a requirements refinement loop.
Follow the plan and produce the refined requirement.
Answer with exactly these sections:
THOUGHTS: your reasoning
EVIDENCE: the source material supporting your answer
FINAL_ANSWER: the refined requirement text

You may call one tool by emitting a JSON object {"tool": "<name>", "args": {...}} on its own line.
Available tools:
%s`

// Solve runs one solver turn. critique is the verifier's feedback from
// the previous round, empty on the first.
func (s *Solver) Solve(ctx context.Context, task Task, plan, critique string, mem *Memory) (models.TraceRecord, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Requirement %s: %s\n\nPlan:\n%s\n", task.ReqID, task.Requirement, plan)
	if related := s.retrieveContext(ctx, task); related != "" {
		fmt.Fprintf(&prompt, "\nRelated context:\n%s\n", related)
	}
	if critique != "" {
		fmt.Fprintf(&prompt, "\nThe verifier rejected your previous answer:\n%s\nAddress every point.\n", critique)
	}

	messages := append(mem.Messages(0), llm.Message{Role: llm.RoleUser, Content: prompt.String()})
	messages = append([]llm.Message{{Role: llm.RoleSystem, Content: fmt.Sprintf(solverSystemPrompt, s.toolList())}}, messages...)

	completion, err := s.chat.Complete(ctx, messages, llm.CompleteOptions{Temperature: 0.4})
	if err != nil {
		return models.TraceRecord{}, fmt.Errorf("solver completion failed: %w", err)
	}
	content := completion.Content

	if inv, ok := ExtractToolCall(content); ok && s.bench != nil {
		content, err = s.resolveToolCall(ctx, inv, messages, content)
		if err != nil {
			return models.TraceRecord{}, err
		}
	}

	blocks := ParseBlocks(content)
	rec := models.TraceRecord{
		ReqID:       task.ReqID,
		SessionID:   task.SessionID,
		AgentType:   "solver",
		Thoughts:    blocks.Thoughts,
		Evidence:    blocks.Evidence,
		FinalAnswer: blocks.FinalAnswer,
		CreatedAt:   time.Now().UTC(),
	}
	mem.AddMessage(llm.RoleAssistant, content)
	saveTrace(ctx, s.traces, rec, s.logger)
	publish(ctx, s.bus, bus.TopicVerify, task, "solver", blocks.FinalAnswer)
	publish(ctx, s.bus, bus.TopicDTO, task, "solver", blocks.FinalAnswer)
	return rec, nil
}

// resolveToolCall executes the embedded tool call and asks the model to
// finish with the result in hand. Tool failures are surfaced to the model
// as an error-status result, not to the caller.
func (s *Solver) resolveToolCall(ctx context.Context, inv *ToolInvocation, messages []llm.Message, firstAnswer string) (string, error) {
	result := s.bench.Call(ctx, inv.Tool, inv.Args)
	s.logger.Info("solver tool call", "tool", inv.Tool, "status", result.Status)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte(fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
	}
	followup := append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: firstAnswer},
		llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Tool %s returned:\n%s\n\nProduce your final THOUGHTS, EVIDENCE, and FINAL_ANSWER sections now.",
			inv.Tool, resultJSON)},
	)
	completion, err := s.chat.Complete(ctx, followup, llm.CompleteOptions{Temperature: 0.4})
	if err != nil {
		return "", fmt.Errorf("solver tool followup failed: %w", err)
	}
	return completion.Content, nil
}

// retrieveContext pulls the top-k semantically closest chunks for the
// requirement. Retrieval failures just mean an emptier prompt.
func (s *Solver) retrieveContext(ctx context.Context, task Task) string {
	if s.embedder == nil || s.store == nil {
		return ""
	}
	vectors, err := s.embedder.Embed(ctx, []string{task.Requirement})
	if err != nil {
		s.logger.Warn("context embedding failed, continuing without context", "error", err)
		return ""
	}
	hits, err := s.store.Search(ctx, config.CollectionChunks, vectors[0], s.topK, nil)
	if err != nil {
		s.logger.Warn("context retrieval failed, continuing without context", "error", err)
		return ""
	}
	var lines []string
	for _, h := range hits {
		if text, _ := h.Payload["text"].(string); text != "" {
			lines = append(lines, "- "+text)
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Solver) toolList() string {
	if s.bench == nil {
		return "(none)"
	}
	tools := s.bench.List()
	if len(tools) == 0 {
		return "(none)"
	}
	var lines []string
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
	}
	return strings.Join(lines, "\n")
}

// Verifier judges a solver answer and either passes it or produces a
// critique for the next round.
type Verifier struct {
	chat   llm.ChatClient
	traces TraceSink
	logger *slog.Logger
}

// NewVerifier creates the verifier. traces may be nil.
func NewVerifier(chat llm.ChatClient, traces TraceSink, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{chat: chat, traces: traces, logger: logger.With("component", "verifier")}
}

const verifierSystemPrompt = `You are the verifier of a requirements refinement loop.
Judge whether the answer satisfies the task given the evidence.
Answer with exactly these sections:
CRITIQUE: concrete defects, or nothing if the answer is acceptable
DECISION: PASS or REJECT`

// Verify runs one verifier turn over a solver answer.
func (v *Verifier) Verify(ctx context.Context, task Task, finalAnswer, evidence string, mem *Memory) (models.TraceRecord, error) {
	content := fmt.Sprintf("Task: %s\n\nAnswer:\n%s\n\nEvidence:\n%s", task.Instruction, finalAnswer, evidence)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: verifierSystemPrompt},
		{Role: llm.RoleUser, Content: content},
	}

	completion, err := v.chat.Complete(ctx, messages, llm.CompleteOptions{Temperature: 0.1})
	if err != nil {
		return models.TraceRecord{}, fmt.Errorf("verifier completion failed: %w", err)
	}

	blocks := ParseBlocks(completion.Content)
	rec := models.TraceRecord{
		ReqID:     task.ReqID,
		SessionID: task.SessionID,
		AgentType: "verifier",
		Critique:  blocks.Critique,
		Decision:  blocks.Decision,
		CreatedAt: time.Now().UTC(),
	}
	mem.AddMessage(llm.RoleAssistant, completion.Content)
	saveTrace(ctx, v.traces, rec, v.logger)
	return rec, nil
}

// Accepted reports whether a verifier decision approves the answer.
func Accepted(decision string) bool {
	d := strings.ToUpper(decision)
	return strings.Contains(d, "PASS") || strings.Contains(d, "ACCEPT")
}

func saveTrace(ctx context.Context, sink TraceSink, rec models.TraceRecord, logger *slog.Logger) {
	if sink == nil {
		return
	}
	if err := sink.Save(ctx, rec); err != nil {
		logger.Warn("trace persistence failed", "req_id", rec.ReqID, "agent", rec.AgentType, "error", err)
	}
}

// publish pushes a client-safe payload onto a bus topic. Thoughts and
// critique never travel here.
func publish(ctx context.Context, b *bus.Bus, topic bus.Topic, task Task, agentType, payload string) {
	if b == nil {
		return
	}
	b.Publish(ctx, topic, bus.Message{
		Context: bus.MessageContext{
			CorrelationID: uuid.New().String(),
			ReqID:         task.ReqID,
			SessionID:     task.SessionID,
			OriginAgentID: agentType,
		},
		Payload: payload,
	})
}
