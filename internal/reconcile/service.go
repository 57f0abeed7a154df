// Package reconcile is the API-facing service: it routes requests to the
// owning protocol adapter and merges persisted records with live state.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/EternisAI/tunnel-manager/internal/objectstore"
	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/view"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

var ErrInvalidUsername = errors.New("username must be non-empty and free of control characters")

// normalizeUsername trims surrounding space and rejects names that are
// empty or carry control characters.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.ContainsFunc(username, unicode.IsControl) {
		return "", ErrInvalidUsername
	}
	return username, nil
}

type Config struct {
	DefaultExpiry time.Duration
}

type Service struct {
	store     store.Store
	registry  *protocol.Registry
	presigner objectstore.Presigner
	config    Config
	now       func() time.Time
}

func NewService(st store.Store, registry *protocol.Registry, presigner objectstore.Presigner, config Config) *Service {
	if config.DefaultExpiry <= 0 {
		config.DefaultExpiry = 30 * 24 * time.Hour
	}
	return &Service{
		store:     st,
		registry:  registry,
		presigner: presigner,
		config:    config,
		now:       time.Now,
	}
}

// ClientFilter narrows client listings by expiry.
type ClientFilter struct {
	ExpiresBefore *time.Time
	ExpiresAfter  *time.Time
}

func (f ClientFilter) match(c view.Client) bool {
	if f.ExpiresBefore != nil && !c.ExpiresAt.Before(*f.ExpiresBefore) {
		return false
	}
	if f.ExpiresAfter != nil && !c.ExpiresAt.After(*f.ExpiresAfter) {
		return false
	}
	return true
}

// GetClients lists clients of one protocol or, when protocolName is empty,
// of every registered protocol. In the fan-out case a failing adapter is
// logged and skipped.
func (s *Service) GetClients(ctx context.Context, protocolName string, filter ClientFilter) ([]view.Client, error) {
	var clients []view.Client
	if protocolName != "" {
		adapter, err := s.registry.Get(protocolName)
		if err != nil {
			return nil, err
		}
		clients, err = adapter.ListClients(ctx, s.store)
		if err != nil {
			return nil, err
		}
	} else {
		for _, adapter := range s.registry.All() {
			listed, err := adapter.ListClients(ctx, s.store)
			if err != nil {
				slog.Warn("Failed to get clients", "protocol", adapter.Name(), "error", err)
				continue
			}
			clients = append(clients, listed...)
		}
	}

	filtered := make([]view.Client, 0, len(clients))
	for _, c := range clients {
		if filter.match(c) {
			filtered = append(filtered, c)
		}
	}
	slog.Debug("Retrieved clients", "protocol", protocolName, "count", len(filtered))
	return filtered, nil
}

// GetClient returns one client with its peers on the given protocol. A
// client without peers on that protocol is still returned.
func (s *Service) GetClient(ctx context.Context, id uuid.UUID, protocolName string) (view.Client, error) {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return view.Client{}, err
	}
	client, err := s.store.GetClientByID(ctx, id)
	if err != nil {
		return view.Client{}, err
	}
	protocolID, err := adapter.ProtocolID(ctx, s.store)
	if err != nil {
		return view.Client{}, err
	}
	peers, err := s.store.ListPeersByClient(ctx, id)
	if err != nil {
		return view.Client{}, err
	}
	for _, p := range peers {
		if p.ProtocolID == protocolID {
			client.Peers = append(client.Peers, p.Peer)
		}
	}

	live, err := adapter.LiveState(ctx)
	if err != nil {
		slog.Warn("Live state unavailable", "protocol", adapter.Name(), "error", err)
	}
	return view.FormatClientWithPeers(ctx, client, adapter.Name(), live, s.presigner), nil
}

type PeerConfig struct {
	Protocol string  `json:"protocol"`
	Config   string  `json:"config"`
	URL      *string `json:"url"`
}

type CreatedClient struct {
	ID      uuid.UUID             `json:"id"`
	Configs map[string]PeerConfig `json:"configs"`
}

// CreateClient provisions one peer of every app type for username. An
// existing client is reused, and so is any peer it already has on the
// protocol; only the missing app types are created. If a later app type
// fails, peers created by this call are removed again.
func (s *Service) CreateClient(ctx context.Context, username, protocolName string, expiresAt *time.Time) (CreatedClient, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return CreatedClient{}, err
	}
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return CreatedClient{}, err
	}

	client, err := s.ensureClient(ctx, username, expiresAt)
	if err != nil {
		return CreatedClient{}, err
	}

	protocolID, err := adapter.ProtocolID(ctx, s.store)
	if err != nil {
		return CreatedClient{}, err
	}
	existing, err := s.store.ListPeersByClient(ctx, client.ID)
	if err != nil {
		return CreatedClient{}, err
	}
	have := make(map[store.AppType]bool)
	for _, p := range existing {
		if p.ProtocolID == protocolID {
			have[p.AppType] = true
		}
	}

	result := CreatedClient{ID: client.ID, Configs: make(map[string]PeerConfig, len(store.AppTypes))}
	var createdNow []uuid.UUID
	for _, appType := range store.AppTypes {
		if have[appType] {
			text, url, err := adapter.StoredConfig(ctx, client.ID, appType)
			if err != nil {
				slog.Warn("Stored config unavailable for existing peer", "client", username, "app_type", appType, "error", err)
			}
			result.Configs[string(appType)] = PeerConfig{Protocol: adapter.Name(), Config: text, URL: url}
			continue
		}

		created, err := adapter.CreatePeer(ctx, s.store, client, appType)
		if err != nil {
			s.compensate(ctx, adapter, createdNow)
			return CreatedClient{}, err
		}
		createdNow = append(createdNow, created.Peer.ID)
		result.Configs[string(appType)] = PeerConfig{Protocol: adapter.Name(), Config: created.Config, URL: created.URL}
	}

	slog.Info("Client provisioned", "username", username, "protocol", adapter.Name(), "new_peers", len(createdNow))
	return result, nil
}

func (s *Service) ensureClient(ctx context.Context, username string, expiresAt *time.Time) (store.Client, error) {
	client, err := s.store.GetClientByUsername(ctx, username)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Client{}, err
	}

	expiry := s.now().Add(s.config.DefaultExpiry)
	if expiresAt != nil {
		expiry = *expiresAt
	}
	client, err = s.store.CreateClient(ctx, username, expiry)
	if errors.Is(err, store.ErrConflict) {
		// lost a race with a concurrent create for the same username
		return s.store.GetClientByUsername(ctx, username)
	}
	return client, err
}

func (s *Service) compensate(ctx context.Context, adapter protocol.Adapter, peerIDs []uuid.UUID) {
	for _, id := range peerIDs {
		if _, err := adapter.DeleteClient(context.WithoutCancel(ctx), s.store, id); err != nil {
			slog.Error("Failed to roll back provisioned peer", "peer_id", id, "error", err)
		}
	}
}

// UpdateClient changes a client's expiry.
func (s *Service) UpdateClient(ctx context.Context, id uuid.UUID, expiresAt time.Time) (store.Client, error) {
	client, err := s.store.UpdateClientExpiry(ctx, id, expiresAt)
	if err != nil {
		return store.Client{}, err
	}
	slog.Info("Client updated", "client_id", id, "expires_at", expiresAt)
	return client, nil
}

// ClientRef identifies a client by id or, when ID is nil, by username.
type ClientRef struct {
	ID       *uuid.UUID
	Username string
}

func (s *Service) resolveClient(ctx context.Context, ref ClientRef) (store.Client, error) {
	if ref.ID != nil {
		return s.store.GetClientByID(ctx, *ref.ID)
	}
	username, err := normalizeUsername(ref.Username)
	if err != nil {
		return store.Client{}, err
	}
	return s.store.GetClientByUsername(ctx, username)
}

// CreatePeer provisions a single peer for an existing client.
func (s *Service) CreatePeer(ctx context.Context, ref ClientRef, appType store.AppType, protocolName string) (view.Peer, string, error) {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return view.Peer{}, "", err
	}
	client, err := s.resolveClient(ctx, ref)
	if err != nil {
		return view.Peer{}, "", err
	}
	created, err := adapter.CreatePeer(ctx, s.store, client, appType)
	if err != nil {
		return view.Peer{}, "", err
	}
	detail := store.PeerDetail{Peer: created.Peer, Protocol: adapter.Name(), Username: client.Username}
	pv := view.FormatPeer(ctx, detail, nil, nil)
	pv.URL = created.URL
	return pv, created.Config, nil
}

// DeletePeer removes a peer through the adapter that owns it. It reports
// false when the peer does not exist.
func (s *Service) DeletePeer(ctx context.Context, peerID uuid.UUID) (bool, error) {
	peer, err := s.store.GetPeerByID(ctx, peerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Peer not found", "peer_id", peerID)
			return false, nil
		}
		return false, err
	}
	adapter, err := s.registry.Get(peer.Protocol)
	if err != nil {
		return false, err
	}
	deleted, err := adapter.DeleteClient(ctx, s.store, peerID)
	if err != nil {
		return false, err
	}
	if deleted {
		slog.Info("Peer deleted", "peer_id", peerID, "protocol", peer.Protocol)
	}
	return deleted, nil
}

// ListPeers lists peers of one protocol, optionally only those whose
// online flag equals online.
func (s *Service) ListPeers(ctx context.Context, protocolName string, online *bool) ([]view.Peer, error) {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return nil, err
	}
	protocolID, err := adapter.ProtocolID(ctx, s.store)
	if err != nil {
		return nil, err
	}
	peers, err := s.store.ListPeersByProtocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	live, err := adapter.LiveState(ctx)
	if err != nil {
		return nil, err
	}
	return s.format(ctx, peers, live, online), nil
}

// ClientPeers lists one client's peers on a protocol.
func (s *Service) ClientPeers(ctx context.Context, clientID uuid.UUID, protocolName string) ([]view.Peer, error) {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetClientByID(ctx, clientID); err != nil {
		return nil, err
	}
	all, err := s.store.ListPeersByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	var peers []store.PeerDetail
	for _, p := range all {
		if protocol.Normalize(p.Protocol) == protocol.Normalize(adapter.Name()) {
			peers = append(peers, p)
		}
	}
	live, err := adapter.LiveState(ctx)
	if err != nil {
		slog.Warn("Live state unavailable", "protocol", adapter.Name(), "error", err)
	}
	return s.format(ctx, peers, live, nil), nil
}

func (s *Service) format(ctx context.Context, peers []store.PeerDetail, live map[string]wgdump.PeerState, online *bool) []view.Peer {
	out := make([]view.Peer, 0, len(peers))
	for _, p := range peers {
		pv := view.FormatPeer(ctx, p, live, s.presigner)
		if online != nil && pv.Online != *online {
			continue
		}
		out = append(out, pv)
	}
	return out
}

// ServerTraffic aggregates counters from a single dump.
func (s *Service) ServerTraffic(ctx context.Context, protocolName string) (wgdump.Totals, error) {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return wgdump.Totals{}, err
	}
	live, err := adapter.LiveState(ctx)
	if err != nil {
		return wgdump.Totals{}, err
	}
	return wgdump.Summarize(live), nil
}

func (s *Service) ServerStatus(ctx context.Context, protocolName string) (protocol.ServerStatus, error) {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return protocol.ServerStatus{}, err
	}
	return adapter.ServerStatus(ctx)
}

func (s *Service) RestartServer(ctx context.Context, protocolName string) error {
	adapter, err := s.registry.Get(protocolName)
	if err != nil {
		return err
	}
	return adapter.RestartServer(ctx)
}

// Protocols lists the registered protocol names.
func (s *Service) Protocols() []string {
	return s.registry.Names()
}
