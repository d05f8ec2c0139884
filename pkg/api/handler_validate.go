package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/validation"
)

type evaluateSingleRequest struct {
	Text         string   `json:"text"`
	CriteriaKeys []string `json:"criteria_keys"`
}

type evaluateSingleResponse struct {
	Score      float64                 `json:"score"`
	Verdict    models.Verdict          `json:"verdict"`
	Evaluation []models.CriterionScore `json:"evaluation"`
	ModelID    string                  `json:"model_id,omitempty"`
	LatencyMs  int64                   `json:"latency_ms,omitempty"`
}

func (s *Server) evaluateSingle(c *gin.Context) {
	var req evaluateSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondInvalid(c, "text is required")
		return
	}

	rec, err := s.deps.Scorer.Score(c.Request.Context(), req.Text, req.CriteriaKeys, s.cfg.Validation.Threshold)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	if s.deps.Evaluations != nil {
		if err := s.deps.Evaluations.Record(c.Request.Context(), rec.Evaluation, rec.Details); err != nil {
			s.logger.Warn("evaluation persistence failed", "error", err)
		}
	}

	c.JSON(http.StatusOK, evaluateSingleResponse{
		Score:      rec.Evaluation.Score,
		Verdict:    rec.Evaluation.Verdict,
		Evaluation: rec.Details,
		ModelID:    rec.Evaluation.ModelID,
		LatencyMs:  rec.Evaluation.LatencyMs,
	})
}

type batchItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts both item forms: a bare string, or an object
// carrying an explicit id. Bare strings get positional ids assigned in
// validationItems.
func (b *batchItem) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Text)
	}
	type plain batchItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = batchItem(p)
	return nil
}

type validateBatchRequest struct {
	Items              []batchItem `json:"items"`
	IncludeSuggestions bool        `json:"includeSuggestions"`
}

func (r validateBatchRequest) validationItems() ([]validation.Item, error) {
	if len(r.Items) == 0 {
		return nil, fmt.Errorf("items are required")
	}
	items := make([]validation.Item, len(r.Items))
	for i, it := range r.Items {
		if strings.TrimSpace(it.Text) == "" {
			return nil, fmt.Errorf("items[%d].text is required", i)
		}
		id := it.ID
		if id == "" {
			id = fmt.Sprintf("item-%d", i)
		}
		items[i] = validation.Item{ID: id, Text: it.Text}
	}
	return items, nil
}

// validateBatch scores a batch through the pooled delegator. The response
// is the full BatchResult envelope (total/passed/failed/error counts plus
// per-item results), not a bare result array, so clients get the batch
// aggregates without recomputing them.
func (s *Server) validateBatch(c *gin.Context) {
	var req validateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body")
		return
	}
	items, err := req.validationItems()
	if err != nil {
		respondInvalid(c, err.Error())
		return
	}

	result := s.deps.Validator.Validate(c.Request.Context(), items, nil, nil)
	if req.IncludeSuggestions && s.deps.Suggester != nil {
		s.attachSuggestions(c, result)
	}
	c.JSON(http.StatusOK, result)
}

// attachSuggestions adds atomic-split candidates to failing results.
// Suggestion failures leave a result without suggestions, never an error.
func (s *Server) attachSuggestions(c *gin.Context, result *models.BatchResult) {
	for i, r := range result.Results {
		if r.Verdict != models.VerdictFail {
			continue
		}
		suggestions, err := s.deps.Suggester.Suggest(c.Request.Context(), r.OriginalText)
		if err != nil {
			s.logger.Warn("suggestion generation failed", "id", r.ID, "error", err)
			continue
		}
		result.Results[i].Suggestions = suggestions
		if s.deps.Suggestions != nil {
			if err := s.deps.Suggestions.Replace(c.Request.Context(), r.OriginalText, suggestions); err != nil {
				s.logger.Warn("suggestion persistence failed", "id", r.ID, "error", err)
			}
		}
	}
}

// validateBatchStream scores items one at a time and writes each result as
// one NDJSON line, flushed as it completes.
func (s *Server) validateBatchStream(c *gin.Context) {
	var req validateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body")
		return
	}
	items, err := req.validationItems()
	if err != nil {
		respondInvalid(c, err.Error())
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)

	for _, item := range items {
		result := s.scoreStreamItem(c, item)
		if err := enc.Encode(result); err != nil {
			return
		}
		c.Writer.Flush()
		if c.Request.Context().Err() != nil {
			return
		}
	}
}

func (s *Server) scoreStreamItem(c *gin.Context, item validation.Item) models.ItemResult {
	rec, err := s.deps.Scorer.Score(c.Request.Context(), item.Text, nil, s.cfg.Validation.Threshold)
	if err != nil {
		return models.ItemResult{
			ID:           item.ID,
			OriginalText: item.Text,
			Verdict:      models.VerdictError,
			Error:        err.Error(),
		}
	}
	return models.ItemResult{
		ID:           item.ID,
		OriginalText: item.Text,
		Score:        rec.Evaluation.Score,
		Verdict:      rec.Evaluation.Verdict,
		Evaluation:   rec.Details,
	}
}

type suggestRequest struct {
	Items []string `json:"items"`
}

type suggestEntry struct {
	Suggestions []models.Suggestion `json:"suggestions"`
}

type suggestResponse struct {
	Items map[string]suggestEntry `json:"items"`
}

func (s *Server) validateSuggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		respondInvalid(c, "items are required")
		return
	}

	resp := suggestResponse{Items: make(map[string]suggestEntry, len(req.Items))}
	for i, text := range req.Items {
		if strings.TrimSpace(text) == "" {
			continue
		}
		suggestions, err := s.deps.Suggester.Suggest(c.Request.Context(), text)
		if err != nil {
			s.logger.Warn("suggestion generation failed", "index", i, "error", err)
			continue
		}
		resp.Items[fmt.Sprintf("%d", i)] = suggestEntry{Suggestions: suggestions}
		if s.deps.Suggestions != nil {
			if err := s.deps.Suggestions.Replace(c.Request.Context(), text, suggestions); err != nil {
				s.logger.Warn("suggestion persistence failed", "index", i, "error", err)
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}
