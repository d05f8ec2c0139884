package models

import "time"

// Verdict is the derived pass/fail outcome of scoring one requirement.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
)

// Criterion is one rubric entry requirements are scored against.
type Criterion struct {
	Key         string    `json:"key" db:"key"`
	Description string    `json:"description" db:"description"`
	Weight      float64   `json:"weight" db:"weight"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CriterionScore is a single criterion's judgment of one requirement text.
type CriterionScore struct {
	CriterionKey string  `json:"criterion"`
	Score        float64 `json:"score"`
	Passed       bool    `json:"passed"`
	Feedback     string  `json:"feedback"`
}

// Evaluation is the aggregate header of one scoring run over a requirement
// text. Rows are append-only; the latest per checksum is authoritative and
// older rows remain as history.
type Evaluation struct {
	EvaluationID        string    `json:"evaluation_id" db:"evaluation_id"`
	RequirementChecksum string    `json:"requirement_checksum" db:"requirement_checksum"`
	RequirementText     string    `json:"requirement_text" db:"requirement_text"`
	Score               float64   `json:"score" db:"score"`
	Verdict             Verdict   `json:"verdict" db:"verdict"`
	ModelID             string    `json:"model_id" db:"model_id"`
	LatencyMs           int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// EvaluationDetail is one criterion's row within an evaluation. The latest
// detail per (requirementChecksum, criterionKey) defines the current verdict
// for that criterion.
type EvaluationDetail struct {
	ID           int64   `json:"id" db:"id"`
	EvaluationID string  `json:"evaluation_id" db:"evaluation_id"`
	CriterionKey string  `json:"criterion_key" db:"criterion_key"`
	Score        float64 `json:"score" db:"score"`
	Passed       bool    `json:"passed" db:"passed"`
	Feedback     string  `json:"feedback" db:"feedback"`
}

// EvaluationRecord bundles an evaluation header with its per-criterion scores.
type EvaluationRecord struct {
	Evaluation Evaluation       `json:"evaluation"`
	Details    []CriterionScore `json:"details"`
}

// ItemResult is the per-requirement outcome within a validation batch.
type ItemResult struct {
	ID           string           `json:"id"`
	OriginalText string           `json:"originalText"`
	Score        float64          `json:"score"`
	Verdict      Verdict          `json:"verdict"`
	Evaluation   []CriterionScore `json:"evaluation,omitempty"`
	Suggestions  []Suggestion     `json:"suggestions,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// BatchStats carries method/flavor details of a batch run.
type BatchStats struct {
	Method string `json:"method,omitempty"`
}

// BatchResult aggregates a validation batch.
type BatchResult struct {
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	ErrorCount  int          `json:"error_count"`
	Results     []ItemResult `json:"results"`
	TotalTimeMs int64        `json:"total_time_ms"`
}

// Suggestion is one atomic rewrite candidate for a compound or vague
// requirement.
type Suggestion struct {
	ID                  int64     `json:"id,omitempty" db:"id"`
	RequirementChecksum string    `json:"-" db:"requirement_checksum"`
	Text                string    `json:"text" db:"text"`
	Rationale           string    `json:"rationale,omitempty" db:"rationale"`
	CreatedAt           time.Time `json:"created_at,omitempty" db:"created_at"`
}
