package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/vector"
)

// PersistQdrant asks Build to upsert the graph into the vector store.
const PersistQdrant = "qdrant"

// BuildOptions tune one Build call.
type BuildOptions struct {
	// UseLLM runs the LLM extraction pass unconditionally. Without it the
	// LLM pass still runs for requirements where heuristics found nothing.
	UseLLM bool

	// Persist selects the persistence target; empty keeps the graph
	// in-memory only.
	Persist string

	// Lexicon overrides the heuristic vocabulary; zero value means the
	// built-in default.
	Lexicon *Lexicon
}

// Builder constructs the knowledge graph from mined requirements.
type Builder struct {
	chat     llm.ChatClient
	embedder embed.Embedder
	store    vector.Store
	logger   *slog.Logger
}

// NewBuilder creates a builder. chat may be nil when the LLM pass is never
// wanted; store and embedder may be nil when persistence is never wanted.
func NewBuilder(chat llm.ChatClient, embedder embed.Embedder, store vector.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{chat: chat, embedder: embedder, store: store, logger: logger.With("component", "kg")}
}

// Build extracts nodes and edges for every requirement, deduplicates them
// by canonical key, and optionally persists the result. Persistence
// failures land in stats.persist_error and never fail the build while the
// in-memory graph is usable.
func (b *Builder) Build(ctx context.Context, requirements []models.Requirement, opts BuildOptions) (*models.KGBuildResult, error) {
	lex := DefaultLexicon()
	if opts.Lexicon != nil {
		lex = *opts.Lexicon
	}

	var nodes []models.KGNode
	var edges []models.KGEdge

	for _, req := range requirements {
		n, e := b.extractOne(ctx, req, lex, opts.UseLLM)
		nodes = append(nodes, n...)
		edges = append(edges, e...)
	}

	dedupedNodes, dupNodes := dedupeNodes(nodes)
	dedupedEdges, dupEdges := dedupeEdges(edges)

	result := &models.KGBuildResult{
		Nodes: dedupedNodes,
		Edges: dedupedEdges,
		Stats: models.KGStats{
			Nodes:   len(dedupedNodes),
			Edges:   len(dedupedEdges),
			Deduped: dupNodes + dupEdges,
		},
	}

	if opts.Persist == PersistQdrant {
		b.persist(ctx, result)
	}
	return result, nil
}

// extractOne produces the raw node/edge set for a single requirement:
// the requirement and tag nodes, the heuristic detections, and the LLM
// pass when requested or when heuristics came up empty.
func (b *Builder) extractOne(ctx context.Context, req models.Requirement, lex Lexicon, useLLM bool) ([]models.KGNode, []models.KGEdge) {
	nodes := []models.KGNode{{
		ID:        req.ReqID,
		Type:      models.NodeRequirement,
		Name:      req.Title,
		EmbedText: req.Title,
		Payload:   map[string]any{"tag": string(req.Tag), "title": req.Title},
	}}
	var edges []models.KGEdge

	addNode := func(t models.NodeType, name string) string {
		id := models.NodeID(t, name)
		nodes = append(nodes, models.KGNode{ID: id, Type: t, Name: name, EmbedText: name})
		return id
	}
	addEdge := func(from string, rel models.EdgeRel, to string) {
		edges = append(edges, models.KGEdge{
			ID:       models.EdgeID(from, rel, to),
			From:     from,
			To:       to,
			Rel:      rel,
			Evidence: append([]models.EvidenceRef(nil), req.EvidenceRefs...),
		})
	}

	tagID := addNode(models.NodeTag, string(req.Tag))
	addEdge(req.ReqID, models.RelHasTag, tagID)

	heuristicHits := 0
	if actor := lex.DetectActor(req.Title); actor != "" {
		addEdge(req.ReqID, models.RelHasActor, addNode(models.NodeActor, actor))
		heuristicHits++
	}
	for _, entity := range lex.DetectEntities(req.Title) {
		addEdge(req.ReqID, models.RelOnEntity, addNode(models.NodeEntity, entity))
		heuristicHits++
	}
	if action := lex.DetectAction(req.Title); action != "" {
		addEdge(req.ReqID, models.RelHasAction, addNode(models.NodeAction, action))
		heuristicHits++
	}

	if (useLLM || heuristicHits == 0) && b.chat != nil {
		llmNodes, llmEdges := b.llmPass(ctx, req)
		nodes = append(nodes, llmNodes...)
		edges = append(edges, llmEdges...)
	}
	return nodes, edges
}

// llmExtraction is the strict JSON shape the extraction prompt asks for.
type llmExtraction struct {
	Nodes []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"nodes"`
	Edges []struct {
		From string `json:"from"`
		To   string `json:"to"`
		Rel  string `json:"rel"`
	} `json:"edges"`
}

const extractionPrompt = `Extract entities and relations from this software requirement.
Respond with strict JSON only, no prose:
{"nodes": [{"id": "optional", "type": "Actor|Entity|Action", "name": "..."}],
 "edges": [{"from": "node id", "to": "node id", "rel": "HAS_ACTOR|HAS_ACTION|ON_ENTITY|RELATES_TO"}]}

Requirement: %s`

// llmPass asks the model for additional nodes and edges. Invalid JSON is
// ignored; missing node ids are synthesized from (type, name).
func (b *Builder) llmPass(ctx context.Context, req models.Requirement) ([]models.KGNode, []models.KGEdge) {
	completion, err := b.chat.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You extract knowledge graph triples from software requirements."},
		{Role: llm.RoleUser, Content: fmt.Sprintf(extractionPrompt, req.Title)},
	}, llm.CompleteOptions{Temperature: 0.0})
	if err != nil {
		b.logger.Warn("LLM extraction failed, keeping heuristic graph", "req_id", req.ReqID, "error", err)
		return nil, nil
	}

	var parsed llmExtraction
	if err := json.Unmarshal([]byte(stripFences(completion.Content)), &parsed); err != nil {
		b.logger.Warn("LLM extraction returned invalid JSON, ignored", "req_id", req.ReqID, "error", err)
		return nil, nil
	}

	var nodes []models.KGNode
	for _, n := range parsed.Nodes {
		if strings.TrimSpace(n.Name) == "" {
			continue
		}
		nodeType := parseNodeType(n.Type)
		id := n.ID
		if id == "" {
			id = models.NodeID(nodeType, n.Name)
		}
		nodes = append(nodes, models.KGNode{ID: id, Type: nodeType, Name: n.Name, EmbedText: n.Name})
	}

	var edges []models.KGEdge
	for _, e := range parsed.Edges {
		if e.From == "" || e.To == "" {
			continue
		}
		rel := parseEdgeRel(e.Rel)
		edges = append(edges, models.KGEdge{
			ID:       models.EdgeID(e.From, rel, e.To),
			From:     e.From,
			To:       e.To,
			Rel:      rel,
			Evidence: append([]models.EvidenceRef(nil), req.EvidenceRefs...),
		})
	}
	return nodes, edges
}

// nodeKey resolves the canonical dedupe key for a node: explicit id first,
// then the synthesized "{type}#{normalized(name)}".
func nodeKey(n models.KGNode) string {
	if n.ID != "" {
		return n.ID
	}
	return strings.ToLower(string(n.Type)) + "#" + models.NormalizeName(n.Name)
}

// edgeKey resolves the canonical dedupe key for an edge.
func edgeKey(e models.KGEdge) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("from=%s|rel=%s|to=%s", e.From, e.Rel, e.To)
}

// dedupeNodes collapses nodes by canonical key, keeping the first
// occurrence and merging payloads of later duplicates into it.
func dedupeNodes(nodes []models.KGNode) ([]models.KGNode, int) {
	seen := make(map[string]int)
	var out []models.KGNode
	dropped := 0
	for _, n := range nodes {
		key := nodeKey(n)
		if idx, ok := seen[key]; ok {
			dropped++
			for k, v := range n.Payload {
				if out[idx].Payload == nil {
					out[idx].Payload = map[string]any{}
				}
				if _, exists := out[idx].Payload[k]; !exists {
					out[idx].Payload[k] = v
				}
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, n)
	}
	return out, dropped
}

// dedupeEdges collapses edges by canonical key; duplicate evidence lists
// are set-union merged by (sourceFile, sha1, chunkIndex).
func dedupeEdges(edges []models.KGEdge) ([]models.KGEdge, int) {
	seen := make(map[string]int)
	var out []models.KGEdge
	dropped := 0
	for _, e := range edges {
		key := edgeKey(e)
		if idx, ok := seen[key]; ok {
			dropped++
			out[idx].Evidence = mergeEvidence(out[idx].Evidence, e.Evidence)
			continue
		}
		seen[key] = len(out)
		out = append(out, e)
	}
	return out, dropped
}

func mergeEvidence(a, b []models.EvidenceRef) []models.EvidenceRef {
	existing := make(map[models.EvidenceRef]bool, len(a))
	for _, ref := range a {
		existing[ref] = true
	}
	for _, ref := range b {
		if !existing[ref] {
			existing[ref] = true
			a = append(a, ref)
		}
	}
	return a
}

// persist upserts the graph into the node and edge collections. Each
// sub-batch inside Upsert is atomic on the store side.
func (b *Builder) persist(ctx context.Context, result *models.KGBuildResult) {
	if b.store == nil || b.embedder == nil {
		result.Stats.PersistError = "persistence requested but no vector store configured"
		return
	}

	texts := make([]string, len(result.Nodes))
	for i, n := range result.Nodes {
		texts[i] = n.EmbedText
		if texts[i] == "" {
			texts[i] = n.Name
		}
	}
	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		result.Stats.PersistError = fmt.Sprintf("embed nodes: %v", err)
		return
	}

	nodePoints := make([]vector.Point, len(result.Nodes))
	for i, n := range result.Nodes {
		nodePoints[i] = vector.Point{
			ID:     n.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				"type":    string(n.Type),
				"name":    n.Name,
				"payload": n.Payload,
			},
		}
	}
	if err := b.store.Upsert(ctx, config.CollectionKGNodes, nodePoints); err != nil {
		result.Stats.PersistError = fmt.Sprintf("upsert nodes: %v", err)
		return
	}
	result.Stats.PersistedNodes = len(nodePoints)

	edgeTexts := make([]string, len(result.Edges))
	for i, e := range result.Edges {
		edgeTexts[i] = fmt.Sprintf("%s %s %s", e.From, e.Rel, e.To)
	}
	edgeVectors, err := b.embedder.Embed(ctx, edgeTexts)
	if err != nil {
		result.Stats.PersistError = fmt.Sprintf("embed edges: %v", err)
		return
	}
	edgePoints := make([]vector.Point, len(result.Edges))
	for i, e := range result.Edges {
		evidence := make([]map[string]any, 0, len(e.Evidence))
		for _, ref := range e.Evidence {
			evidence = append(evidence, map[string]any{
				"source_file": ref.SourceFile,
				"sha1":        ref.SHA1,
				"chunk_index": ref.ChunkIndex,
			})
		}
		edgePoints[i] = vector.Point{
			ID:     e.ID,
			Vector: edgeVectors[i],
			Payload: map[string]any{
				"from":     e.From,
				"to":       e.To,
				"rel":      string(e.Rel),
				"evidence": evidence,
			},
		}
	}
	if err := b.store.Upsert(ctx, config.CollectionKGEdges, edgePoints); err != nil {
		result.Stats.PersistError = fmt.Sprintf("upsert edges: %v", err)
		return
	}
	result.Stats.PersistedEdges = len(edgePoints)
}

func parseNodeType(raw string) models.NodeType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "requirement":
		return models.NodeRequirement
	case "tag":
		return models.NodeTag
	case "actor":
		return models.NodeActor
	case "action":
		return models.NodeAction
	default:
		return models.NodeEntity
	}
}

func parseEdgeRel(raw string) models.EdgeRel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(models.RelHasTag):
		return models.RelHasTag
	case string(models.RelHasActor):
		return models.RelHasActor
	case string(models.RelHasAction):
		return models.RelHasAction
	case string(models.RelOnEntity):
		return models.RelOnEntity
	default:
		return models.RelRelatesTo
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
		s = s[i+1:] // drop the language hint line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
