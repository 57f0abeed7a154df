package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EternisAI/tunnel-manager/internal/api/http/dto"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
)

type ClientHandler struct {
	service         *reconcile.Service
	defaultProtocol string
}

func NewClientHandler(service *reconcile.Service, defaultProtocol string) *ClientHandler {
	return &ClientHandler{service: service, defaultProtocol: defaultProtocol}
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + ", expected RFC3339"})
		return nil, false
	}
	return &t, true
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

// List returns clients of one protocol, or of every protocol when the
// protocol parameter is omitted.
func (h *ClientHandler) List(c *gin.Context) {
	before, ok := parseTimeQuery(c, "expires_before")
	if !ok {
		return
	}
	after, ok := parseTimeQuery(c, "expires_after")
	if !ok {
		return
	}

	clients, err := h.service.GetClients(c.Request.Context(), c.Query("protocol"), reconcile.ClientFilter{
		ExpiresBefore: before,
		ExpiresAfter:  after,
	})
	if err != nil {
		respondError(c, "list clients", err)
		return
	}
	c.JSON(http.StatusOK, dto.ListClientsResponse{Clients: clients, Count: len(clients)})
}

func (h *ClientHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	client, err := h.service.GetClient(c.Request.Context(), id, protocolParam(c, h.defaultProtocol))
	if err != nil {
		respondError(c, "get client", err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *ClientHandler) Create(c *gin.Context) {
	var req dto.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	protocolName := req.Protocol
	if protocolName == "" {
		protocolName = h.defaultProtocol
	}

	created, err := h.service.CreateClient(c.Request.Context(), req.Username, protocolName, req.ExpiresAt)
	if err != nil {
		respondError(c, "create client", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *ClientHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client, err := h.service.UpdateClient(c.Request.Context(), id, *req.ExpiresAt)
	if err != nil {
		respondError(c, "update client", err)
		return
	}
	c.JSON(http.StatusOK, dto.UpdateClientResponse{
		ID:        client.ID.String(),
		Username:  client.Username,
		ExpiresAt: client.ExpiresAt,
	})
}
