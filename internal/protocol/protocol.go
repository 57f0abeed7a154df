// Package protocol defines the peer-lifecycle contract every tunnel backend
// implements and the registry that selects a backend by name.
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/view"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrAllocationExhausted = errors.New("address allocation exhausted")
	ErrConfigGeneration    = errors.New("config generation failed")
)

// CreatedPeer is the result of provisioning one peer.
type CreatedPeer struct {
	Peer       store.Peer
	Config     string
	ObjectName string
	URL        *string
}

type ServerStatus struct {
	Protocol  string `json:"protocol"`
	Container string `json:"container"`
	Interface string `json:"interface"`
	Running   bool   `json:"running"`
	Port      int    `json:"port"`
	Host      string `json:"host"`
}

// Adapter is one tunnel backend. Every method that reads live state runs a
// fresh dump; nothing is cached between calls.
type Adapter interface {
	Name() string
	ProtocolID(ctx context.Context, st store.Store) (uuid.UUID, error)

	ListClients(ctx context.Context, st store.Store) ([]view.Client, error)
	// CreatePeer fails with ErrAllocationExhausted, ErrConfigGeneration,
	// store.ErrConflict or objectstore.ErrStorage.
	CreatePeer(ctx context.Context, st store.Store, client store.Client, appType store.AppType) (*CreatedPeer, error)
	// DeleteClient removes one peer. It reports false when the peer does
	// not exist.
	DeleteClient(ctx context.Context, st store.Store, peerID uuid.UUID) (bool, error)
	CleanupExpiredClients(ctx context.Context, st store.Store) (int, error)

	LiveState(ctx context.Context) (map[string]wgdump.PeerState, error)
	// StoredConfig returns the config text generated for an existing peer.
	StoredConfig(ctx context.Context, clientID uuid.UUID, appType store.AppType) (string, *string, error)
	ServerStatus(ctx context.Context) (ServerStatus, error)
	RestartServer(ctx context.Context) error
}

// PeerDeleter is the part of Adapter CleanupExpiredClients needs.
type PeerDeleter interface {
	ProtocolID(ctx context.Context, st store.Store) (uuid.UUID, error)
	DeleteClient(ctx context.Context, st store.Store, peerID uuid.UUID) (bool, error)
}

// CleanupExpiredClients deletes every peer of this protocol owned by an
// expired client. A failing peer is logged and skipped; the count only
// includes successful deletions.
func CleanupExpiredClients(ctx context.Context, st store.Store, name string, a PeerDeleter) (int, error) {
	protocolID, err := a.ProtocolID(ctx, st)
	if err != nil {
		return 0, err
	}
	clients, err := st.ListExpiredClients(ctx, protocolID, time.Now())
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, client := range clients {
		for _, peer := range client.Peers {
			if err := ctx.Err(); err != nil {
				return deleted, err
			}
			ok, err := a.DeleteClient(ctx, st, peer.ID)
			if err != nil {
				slog.Warn("Failed to delete expired peer", "protocol", name, "client", client.Username, "peer_id", peer.ID, "error", err)
				continue
			}
			if ok {
				deleted++
			}
		}
	}

	if deleted > 0 {
		slog.Info("Expired peers removed", "protocol", name, "count", deleted)
	}
	return deleted, nil
}
