package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/reqforge/reqforge/pkg/kg"
	"github.com/reqforge/reqforge/pkg/models"
)

type kgBuildItem struct {
	ReqID string `json:"req_id"`
	Title string `json:"title"`
	Tag   string `json:"tag"`
}

type kgBuildOptions struct {
	UseLLM  bool   `json:"use_llm"`
	Persist string `json:"persist"`
}

type kgBuildRequest struct {
	Items   []kgBuildItem  `json:"items"`
	Options kgBuildOptions `json:"options"`
}

func (s *Server) kgBuild(c *gin.Context) {
	if s.deps.KGBuilder == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "knowledge graph is not configured")
		return
	}
	var req kgBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		respondInvalid(c, "items are required")
		return
	}

	requirements := make([]models.Requirement, 0, len(req.Items))
	for i, item := range req.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			respondInvalid(c, fmt.Sprintf("items[%d].title is required", i))
			return
		}
		reqID := item.ReqID
		if reqID == "" {
			reqID = fmt.Sprintf("REQ-adhoc-%03d", i)
		}
		requirements = append(requirements, models.Requirement{
			ReqID: reqID,
			Title: title,
			Tag:   models.NormalizeTag(item.Tag),
		})
	}

	result, err := s.deps.KGBuilder.Build(c.Request.Context(), requirements, kg.BuildOptions{
		UseLLM:  req.Options.UseLLM,
		Persist: req.Options.Persist,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) kgSearchNodes(c *gin.Context) {
	if s.deps.KGQuery == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "knowledge graph is not configured")
		return
	}
	query := c.Query("query")
	if strings.TrimSpace(query) == "" {
		respondInvalid(c, "query is required")
		return
	}
	topK := intQuery(c, "top_k", 5)

	hits, err := s.deps.KGQuery.SearchNodes(c.Request.Context(), query, topK, c.Query("node_type"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

func (s *Server) kgNeighbors(c *gin.Context) {
	if s.deps.KGQuery == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "knowledge graph is not configured")
		return
	}
	nodeID := c.Query("node_id")
	if strings.TrimSpace(nodeID) == "" {
		respondInvalid(c, "node_id is required")
		return
	}
	dir := kg.ParseDirection(c.Query("dir"))
	limit := intQuery(c, "limit", 25)

	neighbors, err := s.deps.KGQuery.Neighbors(c.Request.Context(), nodeID, dir, c.Query("rel"), limit)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"neighbors": neighbors})
}

// intQuery parses a positive integer query parameter, falling back on the
// default for absent or unusable values.
func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
