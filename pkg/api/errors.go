package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
)

// writeServiceError maps service-layer errors onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrJobAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func logRequest(c *gin.Context, latency time.Duration) {
	attrs := []any{
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"latency_ms", latency.Milliseconds(),
	}
	if c.Writer.Status() >= http.StatusInternalServerError {
		slog.Error("Request failed", attrs...)
		return
	}
	slog.Info("Request handled", attrs...)
}
