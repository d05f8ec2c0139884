package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/pipeline"
)

func (s *Server) miningUpload(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "pipeline is not configured")
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		respondInvalid(c, "invalid multipart form")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		respondInvalid(c, "at least one file is required")
		return
	}

	inputs := make([]models.DocumentInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			respondInvalid(c, "unreadable file "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondInvalid(c, "unreadable file "+fh.Filename)
			return
		}
		inputs = append(inputs, models.DocumentInput{
			Filename:    fh.Filename,
			Data:        data,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}

	opts := pipeline.RunOptions{
		Guided:       boolForm(c, "guided"),
		NeighborRefs: boolForm(c, "neighbor_refs"),
		ChunkMax:     intForm(c, "chunk_size"),
		ChunkOverlap: intForm(c, "chunk_overlap"),
	}
	if keys := c.PostForm("criteria_keys"); keys != "" {
		opts.CriteriaKeys = strings.Split(keys, ",")
	}

	// The run outlives the upload request, so it gets its own context.
	session := s.deps.Orchestrator.Start(context.Background(), inputs, opts)
	c.JSON(http.StatusAccepted, gin.H{"session_id": session.ID})
}

// workflowStream replays persisted events past the client's last seen id,
// then follows the live queue until the run finishes or the client leaves.
func (s *Server) workflowStream(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	lastID := lastEventID(c)
	if s.deps.DB != nil && lastID > 0 {
		missed, err := s.deps.DB.EventsAfter(c.Request.Context(), session.ID, lastID, s.cfg.Pipeline.CatchupLimit)
		if err != nil {
			s.logger.Warn("event catch-up failed", "session_id", session.ID, "error", err)
		}
		for _, evt := range missed {
			if !s.writeSSE(c, evt) {
				return
			}
		}
	}

	ctx := c.Request.Context()
	for {
		evt, ok := session.Stream.Next(ctx)
		if !ok {
			return
		}
		if evt.ID != 0 && evt.ID <= lastID {
			continue
		}
		if !s.writeSSE(c, evt) {
			return
		}
	}
}

func (s *Server) writeSSE(c *gin.Context, evt models.Event) bool {
	err := sse.Encode(c.Writer, sse.Event{
		Id:    strconv.FormatInt(evt.ID, 10),
		Event: string(evt.Type),
		Data:  string(evt.Payload),
	})
	if err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

func (s *Server) workflowCancel(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "pipeline is not configured")
		return
	}
	id := c.Param("sessionId")
	if !s.deps.Orchestrator.Sessions().Cancel(id) {
		respondNotFound(c, "unknown session")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "canceling"})
}

type clarificationRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) workflowClarification(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	var req clarificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		respondInvalid(c, "answer is required")
		return
	}
	if err := session.Answer(req.Answer); err != nil {
		respondInvalid(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "status": "answered"})
}

func (s *Server) workflowResult(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	report := session.Report()
	if report == nil {
		status, errMsg := session.Status()
		if status == models.WorkflowFailed {
			c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "status": status, "error": errMsg})
			return
		}
		respondNotFound(c, "result not ready")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) session(c *gin.Context) (*pipeline.Session, bool) {
	if s.deps.Orchestrator == nil {
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "pipeline is not configured")
		return nil, false
	}
	session, ok := s.deps.Orchestrator.Sessions().Get(c.Param("sessionId"))
	if !ok {
		respondNotFound(c, "unknown session")
		return nil, false
	}
	return session, true
}

// lastEventID reads the reconnect cursor from the standard SSE header or
// the last_event_id query parameter.
func lastEventID(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func boolForm(c *gin.Context, key string) bool {
	v := strings.ToLower(c.PostForm(key))
	return v == "true" || v == "1" || v == "yes"
}

func intForm(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.PostForm(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
