package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/validation"
)

func TestEvaluateSingle(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/evaluate/single", gin.H{
		"text": "The system shall respond within 200ms.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp evaluateSingleResponse
	decodeJSON(t, w, &resp)
	assert.InDelta(t, 0.9, resp.Score, 1e-9)
	assert.Equal(t, models.VerdictPass, resp.Verdict)
	require.Len(t, resp.Evaluation, 1)
	assert.Equal(t, "clarity", resp.Evaluation[0].CriterionKey)
}


func TestEvaluateSingleRejectsEmptyText(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/evaluate/single", gin.H{"text": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestEvaluateSingleMapsUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, func(deps *Deps, cfg *config.Config) {
		chat := &llm.StubClient{Err: llm.ErrUpstreamUnavailable}
		deps.Scorer = validation.NewScorer(chat, apiRubric{}, apiRubric{}, nil, nil)
	})

	w := ts.do(t, http.MethodPost, "/api/v1/evaluate/single", gin.H{"text": "anything"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp errorResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, CodeUpstreamUnavailable, resp.Error.Code)
}

func TestValidateBatch(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch", gin.H{
		"items": []gin.H{
			{"id": "r1", "text": "The system shall respond within 200ms."},
			{"id": "r2", "text": "The system shall log every login attempt."},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result models.BatchResult
	decodeJSON(t, w, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	require.Len(t, result.Results, 2)
	ids := []string{result.Results[0].ID, result.Results[1].ID}
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)
}

func TestValidateBatchAcceptsStringItems(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch", gin.H{
		"items": []string{
			"The system shall respond within 200ms.",
			"The system shall log every login attempt.",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result models.BatchResult
	decodeJSON(t, w, &result)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Results, 2)
	// Bare strings get positional ids.
	ids := []string{result.Results[0].ID, result.Results[1].ID}
	assert.ElementsMatch(t, []string{"item-0", "item-1"}, ids)
}

func TestValidateBatchStreamAcceptsStringItems(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch/stream", gin.H{
		"items": []string{"The system shall respond within 200ms."},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var line models.ItemResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &line))
	assert.Equal(t, "item-0", line.ID)
	assert.Equal(t, models.VerdictPass, line.Verdict)
}

func TestValidateBatchAttachesSuggestionsToFailures(t *testing.T) {
	ts := newTestServer(t, func(deps *Deps, cfg *config.Config) {
		chat := &llm.StubClient{Responses: []*llm.Completion{{Content: passReply(0.3), ModelID: "stub"}}}
		scorer := validation.NewScorer(chat, apiRubric{}, apiRubric{}, nil, nil)
		deps.Scorer = scorer
		deps.Validator = validation.NewDelegator(scorer, cfg.Validation, nil)
	})

	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch", gin.H{
		"items":              []gin.H{{"id": "r1", "text": "The system must be fast."}},
		"includeSuggestions": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result models.BatchResult
	decodeJSON(t, w, &result)
	require.Len(t, result.Results, 1)
	assert.Equal(t, models.VerdictFail, result.Results[0].Verdict)
	require.Len(t, result.Results[0].Suggestions, 1)
	assert.Contains(t, result.Results[0].Suggestions[0].Text, "200ms")
}

func TestValidateBatchRejectsEmptyItems(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateBatchStreamWritesNDJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch/stream", gin.H{
		"items": []gin.H{
			{"id": "r1", "text": "The system shall respond within 200ms."},
			{"id": "r2", "text": "The system shall log every login attempt."},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(bytes.NewReader(w.Body.Bytes()))
	var lines []models.ItemResult
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var item models.ItemResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
		lines = append(lines, item)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "r1", lines[0].ID)
	assert.Equal(t, "r2", lines[1].ID)
	assert.Equal(t, models.VerdictPass, lines[0].Verdict)
}

func TestValidateBatchStreamEncodesItemErrors(t *testing.T) {
	ts := newTestServer(t, func(deps *Deps, cfg *config.Config) {
		chat := &llm.StubClient{Err: llm.ErrUpstreamUnavailable}
		deps.Scorer = validation.NewScorer(chat, apiRubric{}, apiRubric{}, nil, nil)
	})

	w := ts.do(t, http.MethodPost, "/api/v1/validate/batch/stream", gin.H{
		"items": []gin.H{{"id": "r1", "text": "anything"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var item models.ItemResult
	decodeJSON(t, w, &item)
	assert.Equal(t, models.VerdictError, item.Verdict)
	assert.NotEmpty(t, item.Error)
}

func TestValidateSuggest(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/validate/suggest", gin.H{
		"items": []string{"The system must be fast and secure."},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp suggestResponse
	decodeJSON(t, w, &resp)
	require.Contains(t, resp.Items, "0")
	require.Len(t, resp.Items["0"].Suggestions, 1)
	assert.Contains(t, resp.Items["0"].Suggestions[0].Text, "200ms")
}
