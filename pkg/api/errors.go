package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/services"
)

// writeError maps pipeline and service errors to HTTP responses. Transient
// pipeline failures carry retry-after semantics.
func writeError(c *gin.Context, err error) {
	var pipeErr *agent.PipelineError
	if errors.As(err, &pipeErr) {
		writePipelineError(c, pipeErr)
		return
	}

	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func writePipelineError(c *gin.Context, err *agent.PipelineError) {
	body := gin.H{"error": err.Error(), "kind": string(err.Kind), "stage": err.Stage}
	switch err.Kind {
	case agent.ErrorKindIntentParse:
		c.JSON(http.StatusBadRequest, body)
	case agent.ErrorKindUnsafeQuery:
		c.JSON(http.StatusUnprocessableEntity, body)
	case agent.ErrorKindAuth:
		c.JSON(http.StatusUnauthorized, body)
	case agent.ErrorKindQueryExecution, agent.ErrorKindModelTimeout, agent.ErrorKindModelQuota:
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		slog.Error("Unexpected pipeline error", "kind", string(err.Kind), "stage", err.Stage, "error", err)
		c.JSON(http.StatusInternalServerError, body)
	}
}
