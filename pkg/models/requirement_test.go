package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, TagSecurity, NormalizeTag("security"))
	assert.Equal(t, TagSecurity, NormalizeTag("  Security "))
	assert.Equal(t, TagPerformance, NormalizeTag("PERFORMANCE"))

	// Anything outside the canonical set collapses to functional.
	assert.Equal(t, TagFunctional, NormalizeTag("quality"))
	assert.Equal(t, TagFunctional, NormalizeTag(""))
	assert.Equal(t, TagFunctional, NormalizeTag("non-functional"))
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, PriorityMust, NormalizePriority("MUST"))
	assert.Equal(t, PriorityShould, NormalizePriority(" should"))
	assert.Equal(t, Priority(""), NormalizePriority("mandatory"))
}

func TestChecksumNormalization(t *testing.T) {
	// Same title modulo surrounding whitespace hashes identically.
	a := Checksum("The system shall respond within 200ms")
	b := Checksum("  The system shall respond within 200ms  ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// NFC: decomposed and precomposed umlauts are the same checksum.
	precomposed := Checksum("Das System erhöht die Zahl")
	decomposed := Checksum("Das System erhöht die Zahl")
	assert.Equal(t, precomposed, decomposed)

	assert.NotEqual(t, a, Checksum("The system shall respond within 300ms"))
}

func TestReqIDPattern(t *testing.T) {
	assert.True(t, ReqIDPattern.MatchString("REQ-a1b2c3-000"))
	assert.True(t, ReqIDPattern.MatchString("REQ-a1b2c3-007"))
	assert.True(t, ReqIDPattern.MatchString("REQ-a1b2c3-000-a"))
	assert.True(t, ReqIDPattern.MatchString("REQ-a1b2c3-007-z"))
	assert.True(t, ReqIDPattern.MatchString("REQ-a1b2c3-007-26"))
	assert.True(t, ReqIDPattern.MatchString("REQ-adhoc-000"))
	assert.False(t, ReqIDPattern.MatchString("REQ--000"))
	assert.False(t, ReqIDPattern.MatchString("REQ-a1b2c3"))
	assert.False(t, ReqIDPattern.MatchString("req-a1b2c3-000"))
	assert.False(t, ReqIDPattern.MatchString("REQ-a1b2c3-000-A"))
	assert.False(t, ReqIDPattern.MatchString("REQ-a1b2c3-00"))
}

func TestNodeAndEdgeIDs(t *testing.T) {
	assert.Equal(t, "tag:security", NodeID(NodeTag, " Security "))
	assert.Equal(t, "actor:system_admin", NodeID(NodeActor, "System Admin"))
	assert.Equal(t, "entity:search_result", NodeID(NodeEntity, "search/result"))
	assert.Equal(t, "REQ-1#HAS_TAG#tag:security", EdgeID("REQ-1", RelHasTag, "tag:security"))
}

func TestUIPayloadProjection(t *testing.T) {
	tr := TraceRecord{
		Thoughts:    "private reasoning",
		FinalAnswer: "REQ-001 done",
		Critique:    "too short",
	}
	assert.Equal(t, "REQ-001 done", tr.UIPayload())

	// Decision fills in when no final answer exists.
	assert.Equal(t, "PASS", TraceRecord{Decision: "PASS"}.UIPayload())
	assert.Equal(t, "", TraceRecord{Thoughts: "x", Critique: "y"}.UIPayload())
}

func TestUIPayloadForHistory(t *testing.T) {
	traces := []TraceRecord{
		{FinalAnswer: "first"},
		{Decision: "REJECT"},
		{FinalAnswer: "second"},
		{Decision: "PASS"},
	}
	// Last non-empty final answer wins over later decisions.
	assert.Equal(t, "second", UIPayloadFor(traces))

	noFinals := []TraceRecord{{Decision: "REJECT"}, {Decision: "PASS"}}
	assert.Equal(t, "PASS", UIPayloadFor(noFinals))
	assert.Equal(t, "", UIPayloadFor(nil))
}
