package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/reqforge/reqforge/pkg/agent"
)

type agentRefineRequest struct {
	ReqID       string `json:"req_id"`
	Text        string `json:"text"`
	Instruction string `json:"instruction"`
	SessionID   string `json:"session_id"`
}

type agentRefineResponse struct {
	ReqID  string `json:"req_id"`
	Answer string `json:"answer"`
	State  string `json:"state"`
	Rounds int    `json:"rounds"`
	Traces int    `json:"traces"`
}

// agentRefine runs the reflective planner/solver/verifier loop for a
// single requirement. The response carries only the client-safe answer;
// the full traces land in the trace collection and are queryable through
// /api/traces/{reqId}.
func (s *Server) agentRefine(c *gin.Context) {
	if s.deps.Refiner == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "agent refinement is not configured")
		return
	}

	var req agentRefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondInvalid(c, "text must not be empty")
		return
	}
	if strings.TrimSpace(req.ReqID) == "" {
		respondInvalid(c, "req_id must not be empty")
		return
	}

	result := s.deps.Refiner.Run(c.Request.Context(), agent.Task{
		SessionID:   req.SessionID,
		ReqID:       req.ReqID,
		Requirement: req.Text,
		Instruction: req.Instruction,
	})
	if result.State == agent.StateFailed {
		respondError(c, s.logger, result.Err)
		return
	}

	c.JSON(http.StatusOK, agentRefineResponse{
		ReqID:  req.ReqID,
		Answer: result.Answer,
		State:  string(result.State),
		Rounds: result.Rounds,
		Traces: len(result.Traces),
	})
}
