package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used in tests and when no database URL is
// configured. Transactions run against a copy of the data that replaces the
// original on commit; InTx holds the store lock for its whole duration, so
// every other call, reads included, waits behind a transaction body that
// runs daemon commands.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	seq       int64
	protocols map[uuid.UUID]memRecord[Protocol]
	clients   map[uuid.UUID]memRecord[Client]
	peers     map[uuid.UUID]memRecord[Peer]
}

type memRecord[T any] struct {
	seq   int64
	value T
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		protocols: map[uuid.UUID]memRecord[Protocol]{},
		clients:   map[uuid.UUID]memRecord[Client]{},
		peers:     map[uuid.UUID]memRecord[Peer]{},
	}}
}

func (s *memState) clone() *memState {
	return &memState{
		seq:       s.seq,
		protocols: maps.Clone(s.protocols),
		clients:   maps.Clone(s.clients),
		peers:     maps.Clone(s.peers),
	}
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

func sorted[T any](records map[uuid.UUID]memRecord[T], keep func(T) bool) []T {
	var matched []memRecord[T]
	for _, r := range records {
		if keep(r.value) {
			matched = append(matched, r)
		}
	}
	slices.SortFunc(matched, func(a, b memRecord[T]) int { return int(a.seq - b.seq) })
	out := make([]T, 0, len(matched))
	for _, r := range matched {
		out = append(out, r.value)
	}
	return out
}

func (m *Memory) GetProtocolByName(_ context.Context, name string) (Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protocolByName(name)
}

func (m *Memory) protocolByName(name string) (Protocol, error) {
	for _, r := range m.state.protocols {
		if r.value.Name == name {
			return r.value, nil
		}
	}
	return Protocol{}, fmt.Errorf("get protocol %q: %w", name, ErrNotFound)
}

func (m *Memory) EnsureProtocol(_ context.Context, name string) (Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, err := m.protocolByName(name); err == nil {
		return p, nil
	}
	p := Protocol{ID: uuid.New(), Name: name}
	m.state.protocols[p.ID] = memRecord[Protocol]{seq: m.state.next(), value: p}
	return p, nil
}

func (m *Memory) ListProtocols(_ context.Context) ([]Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	protocols := sorted(m.state.protocols, func(Protocol) bool { return true })
	slices.SortFunc(protocols, func(a, b Protocol) int { return strings.Compare(a.Name, b.Name) })
	return protocols, nil
}

func (m *Memory) CreateClient(_ context.Context, username string, expiresAt time.Time) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if username == "" {
		return Client{}, fmt.Errorf("create client: empty username")
	}
	for _, r := range m.state.clients {
		if r.value.Username == username {
			return Client{}, fmt.Errorf("create client: %w: username %q", ErrConflict, username)
		}
	}
	c := Client{ID: uuid.New(), Username: username, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	m.state.clients[c.ID] = memRecord[Client]{seq: m.state.next(), value: c}
	return c, nil
}

func (m *Memory) GetClientByID(_ context.Context, id uuid.UUID) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.clients[id]
	if !ok {
		return Client{}, fmt.Errorf("get client: %w", ErrNotFound)
	}
	return r.value, nil
}

func (m *Memory) GetClientByUsername(_ context.Context, username string) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.clients {
		if r.value.Username == username {
			return r.value, nil
		}
	}
	return Client{}, fmt.Errorf("get client by username: %w", ErrNotFound)
}

func (m *Memory) UpdateClientExpiry(_ context.Context, id uuid.UUID, expiresAt time.Time) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.clients[id]
	if !ok {
		return Client{}, fmt.Errorf("update client: %w", ErrNotFound)
	}
	r.value.ExpiresAt = expiresAt
	m.state.clients[id] = r
	return r.value, nil
}

func (m *Memory) DeleteClient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.clients[id]; !ok {
		return fmt.Errorf("delete client: %w", ErrNotFound)
	}
	delete(m.state.clients, id)
	for peerID, r := range m.state.peers {
		if r.value.ClientID == id {
			delete(m.state.peers, peerID)
		}
	}
	return nil
}

func (m *Memory) ListClientsByProtocol(_ context.Context, protocolID uuid.UUID) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listClients(protocolID, func(Client) bool { return true }), nil
}

func (m *Memory) ListExpiredClients(_ context.Context, protocolID uuid.UUID, now time.Time) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listClients(protocolID, func(c Client) bool { return c.ExpiresAt.Before(now) }), nil
}

func (m *Memory) listClients(protocolID uuid.UUID, keep func(Client) bool) []Client {
	peers := sorted(m.state.peers, func(p Peer) bool { return p.ProtocolID == protocolID })
	owned := make(map[uuid.UUID][]Peer)
	for _, p := range peers {
		owned[p.ClientID] = append(owned[p.ClientID], p)
	}
	clients := sorted(m.state.clients, func(c Client) bool {
		_, has := owned[c.ID]
		return has && keep(c)
	})
	for i := range clients {
		clients[i].Peers = owned[clients[i].ID]
	}
	return clients
}

func (m *Memory) CreatePeer(_ context.Context, np NewPeer) (Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.clients[np.ClientID]; !ok {
		return Peer{}, fmt.Errorf("create peer: client %s: %w", np.ClientID, ErrNotFound)
	}
	if _, ok := m.state.protocols[np.ProtocolID]; !ok {
		return Peer{}, fmt.Errorf("create peer: protocol %s: %w", np.ProtocolID, ErrNotFound)
	}
	for _, r := range m.state.peers {
		p := r.value
		if p.ProtocolID != np.ProtocolID {
			continue
		}
		if p.ClientID == np.ClientID && p.AppType == np.AppType {
			return Peer{}, fmt.Errorf("create peer: %w: peers_client_app_protocol_key", ErrConflict)
		}
		if p.PublicKey == np.PublicKey {
			return Peer{}, fmt.Errorf("create peer: %w: peers_protocol_public_key_key", ErrConflict)
		}
	}
	p := Peer{
		ID:         uuid.New(),
		ClientID:   np.ClientID,
		ProtocolID: np.ProtocolID,
		AppType:    np.AppType,
		PublicKey:  np.PublicKey,
		Address:    np.Address,
		CreatedAt:  time.Now(),
	}
	m.state.peers[p.ID] = memRecord[Peer]{seq: m.state.next(), value: p}
	return p, nil
}

func (m *Memory) detail(p Peer) PeerDetail {
	return PeerDetail{
		Peer:     p,
		Protocol: m.state.protocols[p.ProtocolID].value.Name,
		Username: m.state.clients[p.ClientID].value.Username,
	}
}

func (m *Memory) GetPeerByID(_ context.Context, id uuid.UUID) (PeerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.peers[id]
	if !ok {
		return PeerDetail{}, fmt.Errorf("get peer: %w", ErrNotFound)
	}
	return m.detail(r.value), nil
}

func (m *Memory) ListPeersByProtocol(_ context.Context, protocolID uuid.UUID) ([]PeerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.details(func(p Peer) bool { return p.ProtocolID == protocolID }), nil
}

func (m *Memory) ListPeersByClient(_ context.Context, clientID uuid.UUID) ([]PeerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.details(func(p Peer) bool { return p.ClientID == clientID }), nil
}

func (m *Memory) details(keep func(Peer) bool) []PeerDetail {
	peers := sorted(m.state.peers, keep)
	out := make([]PeerDetail, 0, len(peers))
	for _, p := range peers {
		out = append(out, m.detail(p))
	}
	return out
}

func (m *Memory) DeletePeer(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.peers[id]; !ok {
		return fmt.Errorf("delete peer: %w", ErrNotFound)
	}
	delete(m.state.peers, id)
	return nil
}

func (m *Memory) UpdatePeerEndpoint(_ context.Context, id uuid.UUID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.peers[id]
	if !ok {
		return fmt.Errorf("update peer endpoint: %w", ErrNotFound)
	}
	r.value.Endpoint = &endpoint
	m.state.peers[id] = r
	return nil
}

func (m *Memory) InTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}
