// Package mining turns documents into requirement DTOs: parse to raw
// blocks, window into chunks, and extract structured requirements from
// each chunk through an LLM tool call. A chunk the model cannot handle
// yields zero requirements, never an error.
package mining

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reqforge/reqforge/pkg/bus"
	"github.com/reqforge/reqforge/pkg/chunk"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/parser"
)

// Options tune one Mine invocation. Zero values fall back to the
// configured chunking defaults.
type Options struct {
	ChunkMin     int
	ChunkMax     int
	ChunkOverlap int

	// NeighborRefs adds evidence refs to chunkIndex±1 within the same
	// document when those chunks exist.
	NeighborRefs bool

	// SessionID tags bus messages published for mined DTOs.
	SessionID string
}

// Result is the outcome of one Mine call: the mined requirements plus the
// chunk space their evidence refs point into.
type Result struct {
	Requirements []models.Requirement
	Chunks       []models.Chunk
}

// Agent is the mining agent. Mine is re-entrant; concurrent calls on
// disjoint inputs are safe.
type Agent struct {
	chat   llm.ChatClient
	parser parser.DocumentParser
	engine *chunk.Engine
	cfg    *config.ChunkingConfig
	bus    *bus.Bus
	logger *slog.Logger
}

// NewAgent creates the mining agent. b may be nil to skip DTO publishing.
func NewAgent(chat llm.ChatClient, docParser parser.DocumentParser, engine *chunk.Engine, cfg *config.ChunkingConfig, b *bus.Bus, logger *slog.Logger) *Agent {
	if cfg == nil {
		cfg = config.DefaultChunkingConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		chat:   chat,
		parser: docParser,
		engine: engine,
		cfg:    cfg,
		bus:    b,
		logger: logger.With("component", "mining"),
	}
}

// NormalizeTexts wraps bare strings as numbered text-file inputs.
func NormalizeTexts(texts []string) []models.DocumentInput {
	inputs := make([]models.DocumentInput, len(texts))
	for i, t := range texts {
		inputs[i] = models.DocumentInput{
			Filename:    fmt.Sprintf("input_%d.txt", i),
			Data:        []byte(t),
			ContentType: "text/plain",
		}
	}
	return inputs
}

// Mine runs the full extraction pipeline over the inputs.
func (a *Agent) Mine(ctx context.Context, inputs []models.DocumentInput, opts Options) (*Result, error) {
	minTokens, maxTokens, overlap := a.chunkParams(opts)

	result := &Result{}
	for _, input := range inputs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		blocks, err := a.parser.Extract(input.Filename, input.Data, input.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", input.Filename, err)
		}
		chunks := a.chunkBlocks(blocks, minTokens, maxTokens, overlap, opts.NeighborRefs)
		result.Chunks = append(result.Chunks, chunks...)

		for _, c := range chunks {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			items := a.extractChunk(ctx, c)
			reqs := a.toRequirements(items, c, chunks, opts.NeighborRefs)
			result.Requirements = append(result.Requirements, reqs...)
		}
	}

	a.publishDTOs(ctx, result.Requirements, opts.SessionID)
	a.logger.Info("mining complete",
		"inputs", len(inputs), "chunks", len(result.Chunks), "requirements", len(result.Requirements))
	return result, nil
}

// chunkParams resolves per-call chunking overrides against the defaults.
func (a *Agent) chunkParams(opts Options) (int, int, int) {
	minTokens, maxTokens, overlap := a.cfg.TokensMin, a.cfg.TokensMax, a.cfg.OverlapTokens
	if opts.ChunkMax > 0 {
		maxTokens = opts.ChunkMax
	}
	if opts.ChunkMin > 0 {
		minTokens = opts.ChunkMin
	}
	if opts.ChunkOverlap > 0 {
		overlap = opts.ChunkOverlap
	}
	return minTokens, maxTokens, overlap
}

// chunkBlocks windows every block of one document into chunks with a
// dense, gap-free index sequence per sha1. With neighbor refs requested a
// single-chunk document is force-split so every requirement can carry at
// least one neighbor: first by re-chunking small, then by halving on
// whitespace.
func (a *Agent) chunkBlocks(blocks []models.RawBlock, minTokens, maxTokens, overlap int, neighborRefs bool) []models.Chunk {
	type source struct {
		text string
		meta models.BlockMeta
	}
	var sources []source
	for _, b := range blocks {
		for _, t := range a.engine.Chunk(b.Text, minTokens, maxTokens, overlap) {
			sources = append(sources, source{text: t, meta: b.Meta})
		}
	}

	if neighborRefs && len(sources) == 1 {
		only := sources[0]
		refined := a.engine.Chunk(only.text, 1, 8, 1)
		if len(refined) <= 1 {
			refined = chunk.HalveOnWhitespace(only.text)
		}
		sources = sources[:0]
		for _, t := range refined {
			sources = append(sources, source{text: t, meta: only.meta})
		}
	}

	chunks := make([]models.Chunk, 0, len(sources))
	for i, src := range sources {
		chunks = append(chunks, models.Chunk{
			Text: src.text,
			Payload: models.ChunkPayload{
				SourceFile: src.meta.SourceFile,
				SHA1:       src.meta.SHA1,
				ChunkIndex: i,
				TokenLen:   a.engine.TokenCount(src.text),
				PageNo:     src.meta.PageNo,
			},
		})
	}
	return chunks
}

// minedItem is one requirement candidate from the tool-call payload.
type minedItem struct {
	Title              string   `json:"title"`
	Tag                string   `json:"tag"`
	Priority           string   `json:"priority"`
	MeasurableCriteria string   `json:"measurable_criteria"`
	Actors             []string `json:"actors"`
}

// minedPayload is the submit_requirements tool argument shape. The model
// sometimes answers with "items" instead of "requirements"; both are
// accepted.
type minedPayload struct {
	Requirements []minedItem `json:"requirements"`
	Items        []minedItem `json:"items"`
}

func (p minedPayload) all() []minedItem {
	if len(p.Requirements) > 0 {
		return p.Requirements
	}
	return p.Items
}

const miningSystemPrompt = `You mine software requirements from document excerpts.
Each requirement title must begin with a subject and a modal verb (e.g. "The system shall ...").
Submit every requirement found in the excerpt via the submit_requirements tool.`

// submitRequirementsTool is the fixed tool schema offered on every chunk.
var submitRequirementsTool = llm.ToolDefinition{
	Name:        "submit_requirements",
	Description: "Submit the requirements extracted from the document excerpt.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"requirements": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":               map[string]any{"type": "string"},
						"tag":                 map[string]any{"type": "string", "enum": []string{"functional", "security", "performance", "ux", "ops", "usability", "reliability", "compliance", "interface", "data", "constraint"}},
						"priority":            map[string]any{"type": "string", "enum": []string{"must", "should", "may"}},
						"measurable_criteria": map[string]any{"type": "string"},
						"actors":              map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"title", "tag"},
				},
			},
		},
		"required": []string{"requirements"},
	},
}

// extractChunk asks the model for this chunk's requirements. A failed
// call, missing tool call, and unparseable content all degrade to zero
// items.
func (a *Agent) extractChunk(ctx context.Context, c models.Chunk) []minedItem {
	completion, err := a.chat.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: miningSystemPrompt},
		{Role: llm.RoleUser, Content: "Document excerpt:\n" + c.Text},
	}, llm.CompleteOptions{
		Temperature: 0.2,
		Tools:       []llm.ToolDefinition{submitRequirementsTool},
		ForceTool:   true,
	})
	if err != nil {
		a.logger.Warn("chunk extraction failed, skipping chunk",
			"sha1", c.Payload.SHA1, "chunk_index", c.Payload.ChunkIndex, "error", err)
		return nil
	}

	var raw string
	for _, tc := range completion.ToolCalls {
		if tc.Name == submitRequirementsTool.Name {
			raw = tc.Arguments
			break
		}
	}
	if raw == "" {
		// No tool call; try the content as JSON with the same schema.
		raw = stripFences(completion.Content)
	}

	var payload minedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		a.logger.Warn("chunk yielded no parseable requirements",
			"sha1", c.Payload.SHA1, "chunk_index", c.Payload.ChunkIndex)
		return nil
	}
	return payload.all()
}

// toRequirements converts mined items into validated requirement DTOs
// with deterministic ids and resolvable evidence refs.
func (a *Agent) toRequirements(items []minedItem, c models.Chunk, all []models.Chunk, neighborRefs bool) []models.Requirement {
	var out []models.Requirement
	for i, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		if len(title) > models.TitleMaxLen {
			title = title[:models.TitleMaxLen]
		}

		req := models.Requirement{
			ReqID:              reqID(c.Payload.SHA1, c.Payload.ChunkIndex, i),
			Title:              title,
			Tag:                models.NormalizeTag(item.Tag),
			Priority:           models.NormalizePriority(item.Priority),
			MeasurableCriteria: strings.TrimSpace(item.MeasurableCriteria),
			Actors:             item.Actors,
			EvidenceRefs:       []models.EvidenceRef{c.Ref()},
		}
		if neighborRefs {
			req.EvidenceRefs = append(req.EvidenceRefs, neighborRefsFor(c, all)...)
		}
		out = append(out, req)
	}
	return out
}

// reqID builds the deterministic requirement id for the i-th item of a
// chunk: REQ-<sha1 prefix>-<chunk index>, suffixed -a..-z for items past
// the first and numerically from -26 on.
func reqID(sha1 string, chunkIndex, item int) string {
	prefix := sha1
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	id := fmt.Sprintf("REQ-%s-%03d", prefix, chunkIndex)
	if item == 0 {
		return id
	}
	suffix := item - 1
	if suffix < 26 {
		return fmt.Sprintf("%s-%c", id, 'a'+suffix)
	}
	return fmt.Sprintf("%s-%d", id, suffix)
}

// neighborRefsFor returns refs to chunkIndex±1 chunks of the same
// document when they exist.
func neighborRefsFor(c models.Chunk, all []models.Chunk) []models.EvidenceRef {
	var refs []models.EvidenceRef
	for _, other := range all {
		if other.Payload.SHA1 != c.Payload.SHA1 || other.Payload.SourceFile != c.Payload.SourceFile {
			continue
		}
		delta := other.Payload.ChunkIndex - c.Payload.ChunkIndex
		if delta == 1 || delta == -1 {
			refs = append(refs, other.Ref())
		}
	}
	return refs
}

// publishDTOs pushes every mined requirement onto the DTO topic for
// downstream subscribers (webhook forwarder, trace collectors).
func (a *Agent) publishDTOs(ctx context.Context, reqs []models.Requirement, sessionID string) {
	if a.bus == nil {
		return
	}
	for _, req := range reqs {
		a.bus.Publish(ctx, bus.TopicDTO, bus.Message{
			Context: bus.MessageContext{
				CorrelationID: uuid.New().String(),
				ReqID:         req.ReqID,
				SessionID:     sessionID,
				OriginAgentID: "mining",
			},
			Payload: req,
		})
	}
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
