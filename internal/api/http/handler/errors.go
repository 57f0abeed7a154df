package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/tunnel-manager/internal/executor"
	"github.com/EternisAI/tunnel-manager/internal/objectstore"
	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
	"github.com/EternisAI/tunnel-manager/internal/store"
)

// respondError maps domain errors to HTTP statuses.
func respondError(c *gin.Context, op string, err error) {
	status, message := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, protocol.ErrUnsupportedProtocol):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, reconcile.ErrInvalidUsername):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrConflict):
		status, message = http.StatusConflict, "already exists"
	case errors.Is(err, executor.ErrTimeout):
		status, message = http.StatusGatewayTimeout, "daemon command timed out"
	case errors.Is(err, protocol.ErrAllocationExhausted):
		message = "no free addresses left on the server"
	case errors.Is(err, protocol.ErrConfigGeneration):
		message = "failed to generate peer config"
	case errors.Is(err, objectstore.ErrStorage):
		message = "failed to store peer config"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "op", op, "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}

// protocolParam reads the protocol query parameter, falling back to def.
func protocolParam(c *gin.Context, def string) string {
	if p := c.Query("protocol"); p != "" {
		return p
	}
	return def
}
