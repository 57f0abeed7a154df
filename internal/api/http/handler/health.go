package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/tunnel-manager/internal/api/http/dto"
)

type HealthHandler struct {
	protocols func() []string
}

func NewHealthHandler(protocols func() []string) *HealthHandler {
	return &HealthHandler{protocols: protocols}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	resp := dto.HealthResponse{Status: "ok"}
	if h.protocols != nil {
		resp.Protocols = h.protocols()
	}
	ctx.JSON(http.StatusOK, resp)
}
