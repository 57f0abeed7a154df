package dto

import (
	"github.com/EternisAI/tunnel-manager/internal/view"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

type CreatePeerRequest struct {
	ClientID *string `json:"client_id" binding:"omitempty,uuid"`
	Username string  `json:"username"`
	AppType  string  `json:"app_type" binding:"required,oneof=amnezia_vpn amnezia_wg"`
	Protocol string  `json:"protocol"`
}

type CreatePeerResponse struct {
	Peer   view.Peer `json:"peer"`
	Config string    `json:"config"`
}

type ListPeersResponse struct {
	Peers []view.Peer `json:"peers"`
	Count int         `json:"count"`
}

type DeletePeerResponse struct {
	Deleted bool `json:"deleted"`
}

type TrafficResponse struct {
	Protocol string `json:"protocol"`
	wgdump.Totals
}
