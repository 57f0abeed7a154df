package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/tunnel-manager/internal/api/http/dto"
)

type Sweeper interface {
	Run(ctx context.Context) int
}

type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

type AdminHandler struct {
	sweeper Sweeper
	syncer  Syncer
}

func NewAdminHandler(sweeper Sweeper, syncer Syncer) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, syncer: syncer}
}

func (h *AdminHandler) Cleanup(ctx *gin.Context) {
	removed := h.sweeper.Run(ctx.Request.Context())
	ctx.JSON(http.StatusOK, dto.CleanupResponse{Removed: removed})
}

// Sync runs one sync pass. Partial failures still return 200 with the
// joined error text.
func (h *AdminHandler) Sync(ctx *gin.Context) {
	reported, err := h.syncer.Sync(ctx.Request.Context())
	resp := dto.SyncResponse{Reported: reported}
	if err != nil {
		resp.Error = err.Error()
	}
	ctx.JSON(http.StatusOK, resp)
}
