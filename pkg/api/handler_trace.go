package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// tracesByReq returns the sanitized trace views of a requirement's agent
// runs. Internal deliberation never leaves the trace service.
func (s *Server) tracesByReq(c *gin.Context) {
	if s.deps.Traces == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "trace store is not configured")
		return
	}
	reqID := c.Param("reqId")
	if strings.TrimSpace(reqID) == "" {
		respondInvalid(c, "req id is required")
		return
	}

	views, err := s.deps.Traces.ByReqID(c.Request.Context(), reqID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	if len(views) == 0 {
		respondNotFound(c, "no traces for requirement")
		return
	}
	c.JSON(http.StatusOK, gin.H{"req_id": reqID, "traces": views})
}
