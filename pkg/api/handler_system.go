package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reqforge/reqforge/pkg/store"
	"github.com/reqforge/reqforge/pkg/version"
)

// health reports the state of the relational store, the vector store,
// active session count, and any startup warnings. A dependency that is
// configured but unreachable degrades the endpoint to 503; one that was
// never configured is reported as disabled and stays healthy.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}

	if s.deps.DB != nil {
		dbHealth, err := store.Health(ctx, s.deps.DB.DB())
		resp["database"] = dbHealth
		if err != nil {
			resp["status"] = "degraded"
		}
	} else {
		resp["database"] = gin.H{"status": "disabled"}
	}

	if s.deps.Vec != nil {
		if err := s.deps.Vec.Healthy(ctx); err != nil {
			resp["vector_store"] = gin.H{"status": "unreachable", "error": err.Error()}
			resp["status"] = "degraded"
		} else {
			resp["vector_store"] = gin.H{"status": "healthy"}
		}
	} else {
		resp["vector_store"] = gin.H{"status": "disabled"}
	}

	if s.deps.Orchestrator != nil {
		resp["active_sessions"] = s.deps.Orchestrator.Sessions().ActiveCount()
	}
	if s.deps.Warnings != nil {
		resp["warnings"] = s.deps.Warnings.GetWarnings()
	}

	status := http.StatusOK
	if resp["status"] == "degraded" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) listCriteria(c *gin.Context) {
	if s.deps.Criteria == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "criteria store is not configured")
		return
	}
	criteria, err := s.deps.Criteria.List(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"criteria":  criteria,
		"threshold": s.cfg.Validation.Threshold,
	})
}
