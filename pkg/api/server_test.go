package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqforge/pkg/chunk"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/dedup"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/kg"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/mining"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/parser"
	"github.com/reqforge/reqforge/pkg/pipeline"
	"github.com/reqforge/reqforge/pkg/rewrite"
	"github.com/reqforge/reqforge/pkg/services"
	"github.com/reqforge/reqforge/pkg/validation"
	"github.com/reqforge/reqforge/pkg/vector"
)

// apiRubric is a fixed one-criterion rubric for handler tests.
type apiRubric struct{}

func (apiRubric) List(context.Context) ([]models.Criterion, error) {
	return []models.Criterion{{Key: "clarity", Description: "clear and testable", Weight: 1}}, nil
}

func (apiRubric) Weights(context.Context) (map[string]float64, error) {
	return map[string]float64{"clarity": 1}, nil
}

// criteriaRepo backs the criteria service without a database.
type criteriaRepo struct{}

func (criteriaRepo) ListCriteria(context.Context) ([]models.Criterion, error) {
	return apiRubric{}.List(context.Background())
}

func (criteriaRepo) LoadCriteria(context.Context) (map[string]float64, error) {
	return apiRubric{}.Weights(context.Background())
}

func (criteriaRepo) SeedDefaultCriteria(context.Context) (int, error) { return 0, nil }

func passReply(score float64) string {
	return fmt.Sprintf(`{"scores": [{"criterion": "clarity", "score": %v, "passed": %v, "feedback": "f"}]}`,
		score, score >= 0.7)
}

func toolReply(titles ...string) *llm.Completion {
	items := make([]map[string]any, len(titles))
	for i, title := range titles {
		items[i] = map[string]any{"title": title, "tag": "functional", "priority": "must"}
	}
	args, _ := json.Marshal(map[string]any{"requirements": items})
	return &llm.Completion{
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "submit_requirements", Arguments: string(args)}},
	}
}

type testServer struct {
	srv *Server
	r   *gin.Engine
	vec *vector.MemoryStore
}

// newTestServer wires the full handler graph over in-memory stubs. mutate
// may adjust deps or config before the router is built.
func newTestServer(t *testing.T, mutate func(deps *Deps, cfg *config.Config)) *testServer {
	t.Helper()
	logger := slog.Default()
	cfg := config.Default()
	embedder := &embed.StubEmbedder{Default: []float32{1, 0}}
	vec := vector.NewMemoryStore()

	scoringChat := &llm.StubClient{Responses: []*llm.Completion{{Content: passReply(0.9), ModelID: "stub"}}}
	suggestChat := &llm.StubClient{Responses: []*llm.Completion{{
		Content: `{"suggestions": [{"text": "The system shall respond within 200ms.", "rationale": "split"}]}`,
		ModelID: "stub",
	}}}
	miningChat := &llm.StubClient{Responses: []*llm.Completion{toolReply("The system shall log every login attempt.")}}

	scorer := validation.NewScorer(scoringChat, apiRubric{}, apiRubric{}, nil, logger)
	builder := kg.NewBuilder(nil, embedder, vec, logger)
	miner := mining.NewAgent(miningChat, parser.NewBuiltin(logger), chunk.NewEngine("gpt-4o-mini", logger),
		cfg.Chunking, nil, logger)
	validator := validation.NewDelegator(scorer, cfg.Validation, logger)
	rewriter := rewrite.NewDelegator(&llm.StubClient{}, scorer, nil, cfg.Rewrite, logger)
	detector := dedup.NewDetector(embedder, logger)
	sessions := pipeline.NewManager(cfg.Pipeline.EventQueueSize, logger)
	orch := pipeline.NewOrchestrator(miner, validator, rewriter, builder, detector,
		embedder, vec, nil, sessions, cfg.Pipeline, logger)

	deps := Deps{
		Scorer:       scorer,
		Validator:    validator,
		Suggester:    validation.NewSuggester(suggestChat),
		KGBuilder:    builder,
		KGQuery:      kg.NewQuery(embedder, vec),
		Orchestrator: orch,
		Criteria:     services.NewCriteriaService(criteriaRepo{}),
		Traces:       services.NewTraceService(vec, embedder, config.CollectionTraces, logger),
		Warnings:     services.NewSystemWarningsService(),
		Vec:          vec,
	}
	if mutate != nil {
		mutate(&deps, cfg)
	}
	srv := NewServer(deps, cfg, logger)
	return &testServer{srv: srv, r: srv.Router(), vec: vec}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.r.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCorrelationIDIsAssignedAndEchoed(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w2 := httptest.NewRecorder()
	ts.r.ServeHTTP(w2, req)
	assert.Equal(t, "corr-123", w2.Header().Get("X-Correlation-ID"))
}

func TestUnknownRouteReturns404(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
