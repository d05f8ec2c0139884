// Package api exposes the HTTP surface: validation and rewrite endpoints,
// knowledge-graph queries, document upload, and per-session SSE event
// streams. Handlers translate between JSON and the domain packages; error
// mapping to the response taxonomy happens in one place.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reqforge/reqforge/pkg/agent"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/kg"
	"github.com/reqforge/reqforge/pkg/pipeline"
	"github.com/reqforge/reqforge/pkg/services"
	"github.com/reqforge/reqforge/pkg/store"
	"github.com/reqforge/reqforge/pkg/validation"
	"github.com/reqforge/reqforge/pkg/vector"
)

// Deps carries the server's collaborators. Optional members (db, traces,
// kg, orchestrator) may be nil; the affected endpoints then answer 503.
type Deps struct {
	Scorer    *validation.Scorer
	Validator *validation.Delegator
	Suggester *validation.Suggester

	KGBuilder *kg.Builder
	KGQuery   *kg.Query

	Orchestrator *pipeline.Orchestrator
	Refiner      *agent.Sequencer

	Evaluations *services.EvaluationService
	Suggestions *services.SuggestionService
	Criteria    *services.CriteriaService
	Traces      *services.TraceService
	Warnings    *services.SystemWarningsService

	DB  *store.Store
	Vec vector.Store
}

// Server is the HTTP front of the system.
type Server struct {
	deps   Deps
	cfg    *config.Config
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the server and its route table.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.Router(),
	}
	return s
}

// Router assembles the gin engine. Exposed for tests.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), correlationMiddleware(), s.requestLogger())
	r.MaxMultipartMemory = s.cfg.Server.MaxUploadBytes

	v1 := r.Group("/api/v1")
	{
		v1.POST("/evaluate/single", s.evaluateSingle)
		v1.POST("/validate/batch", s.validateBatch)
		v1.POST("/validate/batch/stream", s.validateBatchStream)
		v1.POST("/validate/suggest", s.validateSuggest)
		v1.GET("/health", s.health)
		v1.GET("/criteria", s.listCriteria)
	}

	kgGroup := r.Group("/api/kg")
	{
		kgGroup.POST("/build", s.kgBuild)
		kgGroup.GET("/search/nodes", s.kgSearchNodes)
		kgGroup.GET("/neighbors", s.kgNeighbors)
	}

	r.POST("/api/mining/upload", s.miningUpload)
	r.POST("/api/agent/refine", s.agentRefine)

	wf := r.Group("/api/workflow")
	{
		wf.GET("/stream/:sessionId", s.workflowStream)
		wf.GET("/result/:sessionId", s.workflowResult)
		wf.POST("/:sessionId/cancel", s.workflowCancel)
		wf.POST("/:sessionId/clarification", s.workflowClarification)
	}

	r.GET("/api/traces/:reqId", s.tracesByReq)

	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", correlationIDFrom(c))
	}
}
