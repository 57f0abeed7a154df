// Package view merges persisted clients and peers with live daemon state
// into the shapes returned to API callers.
package view

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/tunnel-manager/internal/objectstore"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

type PeerView struct {
	ID            uuid.UUID  `json:"id"`
	Endpoint      *string    `json:"endpoint"`
	Protocol      string     `json:"protocol"`
	URL           *string    `json:"url"`
	Online        bool       `json:"online"`
	LastHandshake *time.Time `json:"last_handshake"`
}

type Client struct {
	ID        uuid.UUID           `json:"id"`
	Username  string              `json:"username"`
	ExpiresAt time.Time           `json:"expires_at"`
	Peers     map[string]PeerView `json:"peers"`
}

// Peer is the per-peer listing shape, including traffic counters.
type Peer struct {
	ID            uuid.UUID  `json:"id"`
	ClientID      uuid.UUID  `json:"client_id"`
	Username      string     `json:"username"`
	AppType       string     `json:"app_type"`
	Protocol      string     `json:"protocol"`
	PublicKey     string     `json:"public_key"`
	Address       string     `json:"address"`
	Endpoint      *string    `json:"endpoint"`
	URL           *string    `json:"url"`
	Online        bool       `json:"online"`
	LastHandshake *time.Time `json:"last_handshake"`
	RxBytes       int64      `json:"rx_bytes"`
	TxBytes       int64      `json:"tx_bytes"`
}

// endpoint prefers the live endpoint over the last persisted one.
func endpoint(live *wgdump.PeerState, persisted *string) *string {
	if live != nil && live.Endpoint != nil {
		return live.Endpoint
	}
	return persisted
}

func lookup(live map[string]wgdump.PeerState, publicKey string) *wgdump.PeerState {
	if state, ok := live[publicKey]; ok {
		return &state
	}
	return nil
}

// presign returns nil instead of failing so one broken object does not hide
// the rest of the view.
func presign(ctx context.Context, presigner objectstore.Presigner, protocol string, clientID uuid.UUID, appType store.AppType) *string {
	if presigner == nil {
		return nil
	}
	name := objectstore.ObjectName(protocol, clientID, string(appType))
	url, err := presigner.PresignedGetURL(ctx, name)
	if err != nil {
		slog.Warn("Failed to generate presigned URL", "object", name, "error", err)
		return nil
	}
	return &url
}

// FormatClientWithPeers builds the view of one client. Peers are keyed by
// app type. A peer absent from live is reported offline.
func FormatClientWithPeers(ctx context.Context, client store.Client, protocol string, live map[string]wgdump.PeerState, presigner objectstore.Presigner) Client {
	out := Client{
		ID:        client.ID,
		Username:  client.Username,
		ExpiresAt: client.ExpiresAt,
		Peers:     make(map[string]PeerView, len(client.Peers)),
	}
	for _, peer := range client.Peers {
		state := lookup(live, peer.PublicKey)
		pv := PeerView{
			ID:       peer.ID,
			Endpoint: endpoint(state, peer.Endpoint),
			Protocol: protocol,
			URL:      presign(ctx, presigner, protocol, client.ID, peer.AppType),
		}
		if state != nil {
			pv.Online = state.Online
			pv.LastHandshake = state.LastHandshake
		}
		out.Peers[string(peer.AppType)] = pv
	}
	return out
}

// FormatPeer builds the listing view of one peer.
func FormatPeer(ctx context.Context, peer store.PeerDetail, live map[string]wgdump.PeerState, presigner objectstore.Presigner) Peer {
	state := lookup(live, peer.PublicKey)
	out := Peer{
		ID:        peer.ID,
		ClientID:  peer.ClientID,
		Username:  peer.Username,
		AppType:   string(peer.AppType),
		Protocol:  peer.Protocol,
		PublicKey: peer.PublicKey,
		Address:   peer.Address,
		Endpoint:  endpoint(state, peer.Endpoint),
		URL:       presign(ctx, presigner, peer.Protocol, peer.ClientID, peer.AppType),
	}
	if state != nil {
		out.Online = state.Online
		out.LastHandshake = state.LastHandshake
		out.RxBytes = state.RxBytes
		out.TxBytes = state.TxBytes
	}
	return out
}
