package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/dedup"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/kg"
	"github.com/reqforge/reqforge/pkg/mining"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/rewrite"
	"github.com/reqforge/reqforge/pkg/validation"
	"github.com/reqforge/reqforge/pkg/vector"
)

// duplicateThreshold is the cosine similarity at which two requirement
// titles count as near-duplicates.
const duplicateThreshold = 0.90

// EventStore persists stream events for reconnect catch-up. Satisfied by
// store.Store; nil disables persistence.
type EventStore interface {
	AppendEvent(ctx context.Context, sessionID string, typ models.EventType, payload any) (*models.Event, error)
}

// Orchestrator drives full pipeline runs and owns their sessions.
type Orchestrator struct {
	miner     *mining.Agent
	validator *validation.Delegator
	rewriter  *rewrite.Delegator
	kgBuilder *kg.Builder
	detector  *dedup.Detector
	embedder  embed.Embedder
	vec       vector.Store
	events    EventStore
	sessions  *Manager
	cfg       *config.PipelineConfig
	logger    *slog.Logger
}

// RunOptions tune one pipeline run.
type RunOptions struct {
	// CriteriaKeys restricts validation to a rubric subset; empty means all.
	CriteriaKeys []string

	// Guided pauses before the rewrite stage to ask the client whether
	// failing requirements should be rewritten.
	Guided bool

	// NeighborRefs adds chunkIndex±1 evidence during mining on top of the
	// configured default.
	NeighborRefs bool

	// ChunkMin, ChunkMax, and ChunkOverlap override the configured token
	// bounds when positive.
	ChunkMin     int
	ChunkMax     int
	ChunkOverlap int
}

// NewOrchestrator wires the pipeline. events, kgBuilder, detector, vec,
// and embedder may be nil; the corresponding stages degrade gracefully.
func NewOrchestrator(
	miner *mining.Agent,
	validator *validation.Delegator,
	rewriter *rewrite.Delegator,
	kgBuilder *kg.Builder,
	detector *dedup.Detector,
	embedder embed.Embedder,
	vec vector.Store,
	events EventStore,
	sessions *Manager,
	cfg *config.PipelineConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		miner:     miner,
		validator: validator,
		rewriter:  rewriter,
		kgBuilder: kgBuilder,
		detector:  detector,
		embedder:  embedder,
		vec:       vec,
		events:    events,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Sessions exposes the session registry.
func (o *Orchestrator) Sessions() *Manager {
	return o.sessions
}

// Start creates a session and launches the run in the background.
func (o *Orchestrator) Start(ctx context.Context, inputs []models.DocumentInput, opts RunOptions) *Session {
	session, runCtx := o.sessions.Create(ctx)
	go o.run(runCtx, session, inputs, opts)
	return session
}

// run executes the stage chain. Cancellation is honored at stage
// boundaries; in-flight LLM calls finish and their results are discarded
// with the stage.
func (o *Orchestrator) run(ctx context.Context, session *Session, inputs []models.DocumentInput, opts RunOptions) {
	defer session.Stream.Close()
	started := time.Now()

	o.emitStatus(session, models.WorkflowRunning, "")

	report := &models.PipelineReport{SessionID: session.ID}

	// Stage 1: mining.
	mined, err := o.miner.Mine(ctx, inputs, mining.Options{
		ChunkMin:     opts.ChunkMin,
		ChunkMax:     opts.ChunkMax,
		ChunkOverlap: opts.ChunkOverlap,
		NeighborRefs: opts.NeighborRefs || o.cfg.NeighborRefs,
		SessionID:    session.ID,
	})
	if o.checkCanceled(ctx, session) {
		return
	}
	if err != nil {
		o.fail(session, fmt.Errorf("mining failed: %w", err))
		return
	}
	report.Requirements = mined.Requirements
	o.emitAgentMessage(session, "mining", fmt.Sprintf("mined %d requirements from %d chunks", len(mined.Requirements), len(mined.Chunks)))

	// Stage 2: chunk persistence.
	o.persistChunks(ctx, session, mined.Chunks)
	if o.checkCanceled(ctx, session) {
		return
	}

	// Stage 3: knowledge graph and validation in parallel.
	kgResult, valResult := o.buildAndValidate(ctx, session, mined.Requirements, opts.CriteriaKeys)
	if o.checkCanceled(ctx, session) {
		return
	}
	if kgResult != nil {
		report.KG = &kgResult.Stats
	}
	report.Validation = valResult

	// Stage 4: rewrite failures, guided mode asking first.
	failed := failedItems(mined.Requirements, valResult)
	if len(failed) > 0 && o.shouldRewrite(ctx, session, opts, len(failed)) {
		rewrites := o.rewriter.Rewrite(ctx, failed, func(completed, total int, msg string) {
			o.emitAgentMessage(session, "rewrite", msg)
		})
		if o.checkCanceled(ctx, session) {
			return
		}
		report.Rewrites = rewrites
		o.emitAgentMessage(session, "rewrite", fmt.Sprintf("improved %d of %d failing requirements", rewrites.Improved, rewrites.Total))

		// Stage 5: revalidate the rewritten texts.
		o.revalidate(ctx, session, report, opts.CriteriaKeys)
		if o.checkCanceled(ctx, session) {
			return
		}
	}

	// Stage 6: duplicate detection over the final texts.
	if o.detector != nil && len(report.Requirements) > 1 {
		dupes, err := o.detector.FindDuplicates(ctx, finalRequirements(report), duplicateThreshold)
		if o.checkCanceled(ctx, session) {
			return
		}
		if err != nil {
			o.emitAgentMessage(session, "dedup", fmt.Sprintf("duplicate detection failed: %s", err))
		} else {
			report.Duplicates = dupes
			o.emitAgentMessage(session, "dedup", fmt.Sprintf("found %d duplicate groups", len(dupes.Groups)))
		}
	}

	// Stage 7: report.
	report.TotalTimeMs = time.Since(started).Milliseconds()
	session.setReport(report)
	o.emit(session, models.EventWorkflowResult, models.WorkflowResultPayload{
		Result:    *report,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	o.emitStatus(session, models.WorkflowCompleted, "")
	session.setStatus(models.WorkflowCompleted, "")
	o.logger.Info("pipeline run completed",
		"session_id", session.ID,
		"requirements", len(report.Requirements),
		"total_time_ms", report.TotalTimeMs)
}

// persistChunks embeds and upserts the mined chunks. Failures degrade
// retrieval quality, not the run.
func (o *Orchestrator) persistChunks(ctx context.Context, session *Session, chunks []models.Chunk) {
	if o.vec == nil || o.embedder == nil || len(chunks) == 0 {
		return
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		o.emitAgentMessage(session, "persist", fmt.Sprintf("chunk embedding failed: %s", err))
		return
	}
	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ID:     fmt.Sprintf("%s#%d", c.Payload.SHA1, c.Payload.ChunkIndex),
			Vector: vectors[i],
			Payload: map[string]any{
				"text":        c.Text,
				"source_file": c.Payload.SourceFile,
				"sha1":        c.Payload.SHA1,
				"chunk_index": c.Payload.ChunkIndex,
				"token_len":   c.Payload.TokenLen,
			},
		}
	}
	if err := o.vec.Upsert(ctx, config.CollectionChunks, points); err != nil {
		o.emitAgentMessage(session, "persist", fmt.Sprintf("chunk persistence failed: %s", err))
		return
	}
	o.emitAgentMessage(session, "persist", fmt.Sprintf("persisted %d chunks", len(chunks)))
}

// buildAndValidate runs the KG build and the validation batch
// concurrently. A KG failure is reported but never blocks validation.
func (o *Orchestrator) buildAndValidate(ctx context.Context, session *Session, reqs []models.Requirement, criteriaKeys []string) (*models.KGBuildResult, *models.BatchResult) {
	var (
		wg        sync.WaitGroup
		kgResult  *models.KGBuildResult
		valResult *models.BatchResult
	)

	if o.kgBuilder != nil && len(reqs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := o.kgBuilder.Build(ctx, reqs, kg.BuildOptions{Persist: kg.PersistQdrant})
			if err != nil {
				o.emitAgentMessage(session, "kg", fmt.Sprintf("knowledge graph build failed: %s", err))
				return
			}
			kgResult = result
			o.emitAgentMessage(session, "kg", fmt.Sprintf("graph built: %d nodes, %d edges", result.Stats.Nodes, result.Stats.Edges))
		}()
	}

	if o.validator != nil && len(reqs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			valResult = o.validator.Validate(ctx, validationItems(reqs), criteriaKeys, func(completed, total int, msg string) {
				o.emitAgentMessage(session, "validation", msg)
			})
			o.emitAgentMessage(session, "validation", fmt.Sprintf("validated %d requirements: %d passed, %d failed", valResult.Total, valResult.Passed, valResult.Failed))
		}()
	}

	wg.Wait()
	return kgResult, valResult
}

// shouldRewrite decides whether the rewrite stage runs. In guided mode
// the client is asked and has ClarificationTimeout to answer; no answer
// means the default (the first suggestion).
func (o *Orchestrator) shouldRewrite(ctx context.Context, session *Session, opts RunOptions, failedCount int) bool {
	if o.rewriter == nil {
		return false
	}
	if !opts.Guided {
		return true
	}

	question := models.ClarificationQuestion{
		QuestionID:  uuid.New().String(),
		SessionID:   session.ID,
		Question:    fmt.Sprintf("%d requirements failed validation. Rewrite them?", failedCount),
		Suggestions: []string{"yes", "no"},
		CreatedAt:   time.Now().UTC(),
	}
	answerCh := session.ask(question)
	o.emit(session, models.EventClarificationQuestion, models.ClarificationPayload{Question: question})

	var answer string
	select {
	case answer = <-answerCh:
	case <-time.After(o.cfg.ClarificationTimeout):
		session.clearPending()
		o.emitAgentMessage(session, "orchestrator", "no answer (timeout)")
		answer = question.Suggestions[0]
	case <-ctx.Done():
		session.clearPending()
		return false
	}
	return answer != "no"
}

// revalidate rescores the rewritten texts and folds the fresh results
// into the validation aggregate.
func (o *Orchestrator) revalidate(ctx context.Context, session *Session, report *models.PipelineReport, criteriaKeys []string) {
	if o.validator == nil || report.Rewrites == nil {
		return
	}
	var items []validation.Item
	for _, r := range report.Rewrites.Results {
		if r.RewrittenText != "" && r.Error == "" {
			items = append(items, validation.Item{ID: r.ReqID, Text: r.RewrittenText})
		}
	}
	if len(items) == 0 {
		return
	}

	reval := o.validator.Validate(ctx, items, criteriaKeys, nil)
	mergeRevalidation(report.Validation, reval)
	o.emitAgentMessage(session, "validation", fmt.Sprintf("revalidated %d rewritten requirements: %d now pass", reval.Total, reval.Passed))
}

// mergeRevalidation replaces per-item results with their revalidated
// versions and recomputes the aggregate counters.
func mergeRevalidation(base, reval *models.BatchResult) {
	if base == nil || reval == nil {
		return
	}
	revalByID := make(map[string]models.ItemResult, len(reval.Results))
	for _, r := range reval.Results {
		revalByID[r.ID] = r
	}

	base.Passed, base.Failed, base.ErrorCount = 0, 0, 0
	for i, r := range base.Results {
		if updated, ok := revalByID[r.ID]; ok {
			base.Results[i] = updated
			r = updated
		}
		switch r.Verdict {
		case models.VerdictPass:
			base.Passed++
		case models.VerdictFail:
			base.Failed++
		default:
			base.ErrorCount++
		}
	}
}

// failedItems pairs failing validation results with their requirement
// texts for the rewrite delegator.
func failedItems(reqs []models.Requirement, valResult *models.BatchResult) []models.RequirementWithEvaluation {
	if valResult == nil {
		return nil
	}
	titleByID := make(map[string]string, len(reqs))
	for _, r := range reqs {
		titleByID[r.ReqID] = r.Title
	}
	var failed []models.RequirementWithEvaluation
	for _, r := range valResult.Results {
		if r.Verdict != models.VerdictFail {
			continue
		}
		failed = append(failed, models.RequirementWithEvaluation{
			ReqID:      r.ID,
			Text:       titleByID[r.ID],
			Score:      r.Score,
			Evaluation: r.Evaluation,
		})
	}
	return failed
}

// finalRequirements applies successful rewrites onto the mined titles so
// duplicate detection sees what the user will.
func finalRequirements(report *models.PipelineReport) []models.Requirement {
	if report.Rewrites == nil {
		return report.Requirements
	}
	rewrittenByID := make(map[string]string)
	for _, r := range report.Rewrites.Results {
		if r.RewrittenText != "" && r.Error == "" {
			rewrittenByID[r.ReqID] = r.RewrittenText
		}
	}
	out := make([]models.Requirement, len(report.Requirements))
	copy(out, report.Requirements)
	for i, r := range out {
		if text, ok := rewrittenByID[r.ReqID]; ok {
			out[i].Title = text
		}
	}
	return out
}

func validationItems(reqs []models.Requirement) []validation.Item {
	items := make([]validation.Item, len(reqs))
	for i, r := range reqs {
		items[i] = validation.Item{ID: r.ReqID, Text: r.Title}
	}
	return items
}

// checkCanceled emits the canceled terminal status when the run context
// is done.
func (o *Orchestrator) checkCanceled(ctx context.Context, session *Session) bool {
	if ctx.Err() == nil {
		return false
	}
	o.logger.Info("pipeline run canceled", "session_id", session.ID)
	session.setStatus(models.WorkflowFailed, "canceled")
	o.emitStatus(session, models.WorkflowFailed, "canceled")
	return true
}

func (o *Orchestrator) fail(session *Session, err error) {
	o.logger.Error("pipeline run failed", "session_id", session.ID, "error", err)
	session.setStatus(models.WorkflowFailed, err.Error())
	o.emitStatus(session, models.WorkflowFailed, err.Error())
}

func (o *Orchestrator) emitStatus(session *Session, status, errMsg string) {
	o.emit(session, models.EventWorkflowStatus, models.WorkflowStatusPayload{
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (o *Orchestrator) emitAgentMessage(session *Session, agentName, msg string) {
	o.emit(session, models.EventAgentMessage, models.AgentMessagePayload{
		Agent:     agentName,
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// emit persists one event and pushes it onto the live stream. Persistence
// uses a detached context so terminal events survive cancellation.
func (o *Orchestrator) emit(session *Session, typ models.EventType, payload any) {
	evt := models.Event{SessionID: session.ID, Type: typ, CreatedAt: time.Now().UTC()}
	if o.events != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stored, err := o.events.AppendEvent(persistCtx, session.ID, typ, payload)
		cancel()
		if err != nil {
			o.logger.Warn("event persistence failed", "session_id", session.ID, "type", typ, "error", err)
		} else {
			evt = *stored
		}
	}
	if len(evt.Payload) == 0 {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	session.Stream.push(evt)
}
