package models

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Tag categorizes a requirement by domain concern.
type Tag string

const (
	TagFunctional  Tag = "functional"
	TagSecurity    Tag = "security"
	TagPerformance Tag = "performance"
	TagUX          Tag = "ux"
	TagOps         Tag = "ops"
	TagUsability   Tag = "usability"
	TagReliability Tag = "reliability"
	TagCompliance  Tag = "compliance"
	TagInterface   Tag = "interface"
	TagData        Tag = "data"
	TagConstraint  Tag = "constraint"
)

// canonicalTags is the closed set of accepted tag values.
var canonicalTags = map[Tag]bool{
	TagFunctional: true, TagSecurity: true, TagPerformance: true,
	TagUX: true, TagOps: true, TagUsability: true, TagReliability: true,
	TagCompliance: true, TagInterface: true, TagData: true, TagConstraint: true,
}

// NormalizeTag lowercases and trims a raw tag value, remapping anything
// outside the canonical set to TagFunctional.
func NormalizeTag(raw string) Tag {
	t := Tag(strings.ToLower(strings.TrimSpace(raw)))
	if canonicalTags[t] {
		return t
	}
	return TagFunctional
}

// Priority expresses requirement importance in MoSCoW-reduced form.
type Priority string

const (
	PriorityMust   Priority = "must"
	PriorityShould Priority = "should"
	PriorityMay    Priority = "may"
)

// NormalizePriority lowercases a raw priority; unknown values collapse to empty.
func NormalizePriority(raw string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityMust, PriorityShould, PriorityMay:
		return p
	default:
		return ""
	}
}

// TitleMaxLen is the maximum accepted requirement title length.
const TitleMaxLen = 500

// ReqIDPattern matches well-formed requirement identifiers as the miner
// generates them: REQ-<source>-<chunk index>, where the chunk index is
// zero-padded to at least three digits, plus an optional item suffix
// (-a..-z for the first 26 items on a chunk, then -26, -27, ...).
var ReqIDPattern = regexp.MustCompile(`^REQ-[0-9A-Za-z]{1,32}-\d{3,}(-(?:[a-z]|\d+))?$`)

// EvidenceRef points into the chunk space: only refs whose (sha1, chunkIndex)
// resolves to an existing chunk are valid.
type EvidenceRef struct {
	SourceFile string `json:"source_file"`
	SHA1       string `json:"sha1"`
	ChunkIndex int    `json:"chunk_index"`
}

// Requirement is an atomic statement of system behavior mined from a document.
// Identity is ReqID.
type Requirement struct {
	ReqID              string        `json:"req_id"`
	Title              string        `json:"title"`
	Tag                Tag           `json:"tag"`
	Priority           Priority      `json:"priority,omitempty"`
	MeasurableCriteria string        `json:"measurable_criteria,omitempty"`
	Actors             []string      `json:"actors,omitempty"`
	EvidenceRefs       []EvidenceRef `json:"evidence_refs"`
}

// Checksum returns the SHA-256 hex digest of the NFC-normalized requirement
// title. It keys evaluation history and the artifact cache.
func Checksum(title string) string {
	normalized := norm.NFC.String(strings.TrimSpace(title))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// DocumentInput is a normalized mining input: uploaded file bytes or an
// inline text snippet wrapped as input_<i>.txt.
type DocumentInput struct {
	Filename    string `json:"filename"`
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
}
