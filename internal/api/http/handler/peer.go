package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EternisAI/tunnel-manager/internal/api/http/dto"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
	"github.com/EternisAI/tunnel-manager/internal/store"
)

type PeerHandler struct {
	service         *reconcile.Service
	defaultProtocol string
}

func NewPeerHandler(service *reconcile.Service, defaultProtocol string) *PeerHandler {
	return &PeerHandler{service: service, defaultProtocol: defaultProtocol}
}

func (h *PeerHandler) List(c *gin.Context) {
	var online *bool
	if raw := c.Query("online"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid online"})
			return
		}
		online = &v
	}

	peers, err := h.service.ListPeers(c.Request.Context(), protocolParam(c, h.defaultProtocol), online)
	if err != nil {
		respondError(c, "list peers", err)
		return
	}
	c.JSON(http.StatusOK, dto.ListPeersResponse{Peers: peers, Count: len(peers)})
}

func (h *PeerHandler) ListByClient(c *gin.Context) {
	clientID, ok := parseID(c, "client_id")
	if !ok {
		return
	}
	peers, err := h.service.ClientPeers(c.Request.Context(), clientID, protocolParam(c, h.defaultProtocol))
	if err != nil {
		respondError(c, "list client peers", err)
		return
	}
	c.JSON(http.StatusOK, dto.ListPeersResponse{Peers: peers, Count: len(peers)})
}

func (h *PeerHandler) Create(c *gin.Context) {
	var req dto.CreatePeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := reconcile.ClientRef{Username: req.Username}
	if req.ClientID != nil {
		id, err := uuid.Parse(*req.ClientID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
			return
		}
		ref.ID = &id
	} else if req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id or username is required"})
		return
	}

	protocolName := req.Protocol
	if protocolName == "" {
		protocolName = h.defaultProtocol
	}
	peer, config, err := h.service.CreatePeer(c.Request.Context(), ref, store.AppType(req.AppType), protocolName)
	if err != nil {
		respondError(c, "create peer", err)
		return
	}
	c.JSON(http.StatusCreated, dto.CreatePeerResponse{Peer: peer, Config: config})
}

func (h *PeerHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	deleted, err := h.service.DeletePeer(c.Request.Context(), id)
	if err != nil {
		respondError(c, "delete peer", err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, dto.DeletePeerResponse{Deleted: true})
}
