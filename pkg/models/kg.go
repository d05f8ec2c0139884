package models

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NodeType classifies knowledge-graph nodes.
type NodeType string

const (
	NodeRequirement NodeType = "Requirement"
	NodeTag         NodeType = "Tag"
	NodeActor       NodeType = "Actor"
	NodeEntity      NodeType = "Entity"
	NodeAction      NodeType = "Action"
)

// EdgeRel classifies knowledge-graph edges.
type EdgeRel string

const (
	RelHasTag    EdgeRel = "HAS_TAG"
	RelHasActor  EdgeRel = "HAS_ACTOR"
	RelHasAction EdgeRel = "HAS_ACTION"
	RelOnEntity  EdgeRel = "ON_ENTITY"
	RelRelatesTo EdgeRel = "RELATES_TO"
)

var nameSeparators = regexp.MustCompile(`[\s/]+`)

// NormalizeName produces the canonical form of a node name: NFC, lowercased,
// trimmed, inner whitespace collapsed to underscores.
func NormalizeName(name string) string {
	n := norm.NFC.String(strings.TrimSpace(strings.ToLower(name)))
	return nameSeparators.ReplaceAllString(n, "_")
}

// NodeID builds the canonical id for a non-requirement node:
// "{type lowercased}:{normalized name}". Requirement nodes use their req_id.
func NodeID(t NodeType, name string) string {
	return strings.ToLower(string(t)) + ":" + NormalizeName(name)
}

// EdgeID builds the canonical id "from#rel#to".
func EdgeID(from string, rel EdgeRel, to string) string {
	return from + "#" + string(rel) + "#" + to
}

// KGNode is one knowledge-graph node. Nodes are never mutated in place;
// conflicting duplicates merge their evidence instead.
type KGNode struct {
	ID        string         `json:"id"`
	Type      NodeType       `json:"type"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmbedText string         `json:"embed_text,omitempty"`
}

// KGEdge is one knowledge-graph edge; identity is from#rel#to.
type KGEdge struct {
	ID       string         `json:"id"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Rel      EdgeRel        `json:"rel"`
	Payload  map[string]any `json:"payload,omitempty"`
	Evidence []EvidenceRef  `json:"evidence,omitempty"`
}

// KGStats reports sizing and persistence outcomes of one Build call.
type KGStats struct {
	Nodes          int    `json:"nodes"`
	Edges          int    `json:"edges"`
	Deduped        int    `json:"deduped"`
	PersistedNodes int    `json:"persisted_nodes,omitempty"`
	PersistedEdges int    `json:"persisted_edges,omitempty"`
	PersistError   string `json:"persist_error,omitempty"`
}

// KGBuildResult is the full outcome of a knowledge-graph build.
type KGBuildResult struct {
	Nodes []KGNode `json:"nodes"`
	Edges []KGEdge `json:"edges"`
	Stats KGStats  `json:"stats"`
}
