package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/tunnel-manager/internal/api/http/dto"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
)

type ServerHandler struct {
	service         *reconcile.Service
	defaultProtocol string
}

func NewServerHandler(service *reconcile.Service, defaultProtocol string) *ServerHandler {
	return &ServerHandler{service: service, defaultProtocol: defaultProtocol}
}

func (h *ServerHandler) Status(c *gin.Context) {
	status, err := h.service.ServerStatus(c.Request.Context(), protocolParam(c, h.defaultProtocol))
	if err != nil {
		respondError(c, "server status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ServerHandler) Traffic(c *gin.Context) {
	name := protocolParam(c, h.defaultProtocol)
	totals, err := h.service.ServerTraffic(c.Request.Context(), name)
	if err != nil {
		respondError(c, "server traffic", err)
		return
	}
	c.JSON(http.StatusOK, dto.TrafficResponse{Protocol: name, Totals: totals})
}

func (h *ServerHandler) Restart(c *gin.Context) {
	name := protocolParam(c, h.defaultProtocol)
	if err := h.service.RestartServer(c.Request.Context(), name); err != nil {
		respondError(c, "restart server", err)
		return
	}
	c.JSON(http.StatusOK, dto.RestartResponse{Protocol: name, Restarted: true})
}
