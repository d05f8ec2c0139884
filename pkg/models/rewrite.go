package models

import "time"

// RewriteResult is the outcome of the feedback-driven rewrite loop for one
// failed requirement.
type RewriteResult struct {
	ReqID              string   `json:"req_id"`
	OriginalText       string   `json:"original_text"`
	RewrittenText      string   `json:"rewritten_text"`
	AddressedCriteria  []string `json:"addressed_criteria"`
	Attempt            int      `json:"attempt"`
	NewScore           float64  `json:"new_score,omitempty"`
	ImprovementSummary string   `json:"improvement_summary,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// BatchRewriteResult aggregates a rewrite batch.
type BatchRewriteResult struct {
	Total       int             `json:"total"`
	Improved    int             `json:"improved"`
	Unchanged   int             `json:"unchanged"`
	ErrorCount  int             `json:"error_count"`
	Results     []RewriteResult `json:"results"`
	TotalTimeMs int64           `json:"total_time_ms"`
}

// RewrittenRequirement is the persisted form of a completed rewrite.
type RewrittenRequirement struct {
	ID                  int64     `json:"id" db:"id"`
	ReqID               string    `json:"req_id" db:"req_id"`
	RequirementChecksum string    `json:"requirement_checksum" db:"requirement_checksum"`
	OriginalText        string    `json:"original_text" db:"original_text"`
	RewrittenText       string    `json:"rewritten_text" db:"rewritten_text"`
	AddressedCriteria   string    `json:"addressed_criteria" db:"addressed_criteria"`
	Attempt             int       `json:"attempt" db:"attempt"`
	NewScore            float64   `json:"new_score" db:"new_score"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// RequirementWithEvaluation pairs a requirement text with its failing
// evaluation, the unit of work for the rewrite delegator.
type RequirementWithEvaluation struct {
	ReqID      string           `json:"req_id"`
	Text       string           `json:"text"`
	Score      float64          `json:"score"`
	Evaluation []CriterionScore `json:"evaluation"`
}
