package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/services"
	"github.com/reqforge/reqforge/pkg/vector"
)

// Error codes of the HTTP surface.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeTimeout             = "timeout"
	CodeInternal            = "internal_error"
)

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// respondError maps a service or infrastructure error onto the error
// taxonomy. Internal errors expose a correlation id only; the cause goes
// to the log.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		respond(c, http.StatusBadRequest, CodeInvalidRequest, validErr.Error())
	case errors.Is(err, services.ErrInvalidInput):
		respond(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		respond(c, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, vector.ErrUnavailable),
		errors.Is(err, llm.ErrUpstreamUnavailable),
		errors.Is(err, services.ErrUnavailable):
		respond(c, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "upstream dependency unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respond(c, http.StatusGatewayTimeout, CodeTimeout, "operation timed out")
	default:
		correlationID := correlationIDFrom(c)
		logger.Error("unexpected handler error",
			"error", err,
			"path", c.FullPath(),
			"correlation_id", correlationID)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errorBody{
			Code:          CodeInternal,
			Message:       "internal server error",
			CorrelationID: correlationID,
		}})
	}
}

// respondInvalid rejects a malformed request body or parameter.
func respondInvalid(c *gin.Context, msg string) {
	respond(c, http.StatusBadRequest, CodeInvalidRequest, msg)
}

func respondNotFound(c *gin.Context, msg string) {
	respond(c, http.StatusNotFound, CodeNotFound, msg)
}

func respond(c *gin.Context, status int, code, msg string) {
	c.JSON(status, errorResponse{Error: errorBody{Code: code, Message: msg}})
}

const correlationIDKey = "correlation_id"

// correlationMiddleware assigns every request a correlation id, honoring
// one supplied by the client.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationIDKey, id)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}

func correlationIDFrom(c *gin.Context) string {
	if id, ok := c.Get(correlationIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
