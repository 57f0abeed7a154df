package dto

import (
	"time"

	"github.com/EternisAI/tunnel-manager/internal/reconcile"
	"github.com/EternisAI/tunnel-manager/internal/view"
)

type CreateClientRequest struct {
	Username  string     `json:"username" binding:"required,min=1,max=255"`
	Protocol  string     `json:"protocol"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type UpdateClientRequest struct {
	ExpiresAt *time.Time `json:"expires_at" binding:"required"`
}

type ClientResponse = view.Client

type ListClientsResponse struct {
	Clients []view.Client `json:"clients"`
	Count   int           `json:"count"`
}

type CreateClientResponse = reconcile.CreatedClient

type UpdateClientResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}
