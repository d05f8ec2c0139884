// Package rewrite improves failed requirements through a feedback-driven
// LLM loop: each attempt enumerates the failing criteria with canonical
// improvement hints, and the rewritten text is re-scored until it clears
// the target or attempts run out.
package rewrite

// improvementHints maps each rubric criterion to its canonical
// improvement instruction, appended to the criterion's feedback in the
// rewrite prompt.
var improvementHints = map[string]string{
	"clarity":             "state the behavior in plain words a reviewer outside the team understands",
	"testability":         "phrase the requirement so a concrete test can verify it",
	"measurability":       "include quantifiable metrics",
	"atomic":              "split compound statements; one obligation per requirement",
	"concise":             "remove filler words and redundant phrasing",
	"unambiguous":         "replace vague adverbs and open-ended terms with exact wording",
	"consistent_language": "use shall/should/may with their standard meaning",
	"follows_template":    "structure as: The system shall [ACTION] [OBJECT] [CONSTRAINT]",
	"design_independent":  "describe what the system does, not how it is built",
	"purpose_independent": "state the observable behavior without embedding its rationale",
}

// HintFor returns the canonical improvement hint for a criterion, or a
// generic fallback for criteria outside the built-in rubric.
func HintFor(criterion string) string {
	if hint, ok := improvementHints[criterion]; ok {
		return hint
	}
	return "address the feedback for this criterion directly"
}

// requirementTemplate is the IEEE-29148-style shape rewrites are asked to
// follow.
const requirementTemplate = `Template: The system shall [ACTION] [OBJECT] [CONSTRAINT]
Acceptance criteria: GIVEN <precondition> WHEN <trigger> THEN <observable outcome>`
