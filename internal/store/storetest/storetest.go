// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/tunnel-manager/internal/store"
)

// Run executes the suite. newStore must return an empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnsureProtocol", testEnsureProtocol},
		{"ClientLifecycle", testClientLifecycle},
		{"ClientUsernameConflict", testClientUsernameConflict},
		{"PeerUniqueness", testPeerUniqueness},
		{"ListClientsByProtocol", testListClientsByProtocol},
		{"ListExpiredClients", testListExpiredClients},
		{"PeerDetails", testPeerDetails},
		{"DeletePeerKeepsClient", testDeletePeerKeepsClient},
		{"DeleteClientCascades", testDeleteClientCascades},
		{"TxRollback", testTxRollback},
		{"TxCommit", testTxCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func seed(t *testing.T, s store.Store, username string, expiresAt time.Time) (store.Protocol, store.Client) {
	t.Helper()
	ctx := context.Background()
	p, err := s.EnsureProtocol(ctx, "amneziawg")
	require.NoError(t, err)
	c, err := s.CreateClient(ctx, username, expiresAt)
	require.NoError(t, err)
	return p, c
}

func addPeer(t *testing.T, s store.Store, p store.Protocol, c store.Client, app store.AppType) store.Peer {
	t.Helper()
	peer, err := s.CreatePeer(context.Background(), store.NewPeer{
		ClientID:   c.ID,
		ProtocolID: p.ID,
		AppType:    app,
		PublicKey:  uuid.NewString(),
		Address:    "10.8.1.2/32",
	})
	require.NoError(t, err)
	return peer
}

func testEnsureProtocol(t *testing.T, s store.Store) {
	ctx := context.Background()
	first, err := s.EnsureProtocol(ctx, "wireguard")
	require.NoError(t, err)
	second, err := s.EnsureProtocol(ctx, "wireguard")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	byName, err := s.GetProtocolByName(ctx, "wireguard")
	require.NoError(t, err)
	assert.Equal(t, first, byName)

	_, err = s.GetProtocolByName(ctx, "openvpn")
	assert.ErrorIs(t, err, store.ErrNotFound)

	protocols, err := s.ListProtocols(ctx)
	require.NoError(t, err)
	assert.Contains(t, protocols, first)
}

func testClientLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	_, c := seed(t, s, "alice", expires)

	got, err := s.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, expires.Equal(got.ExpiresAt))

	got, err = s.GetClientByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	later := expires.Add(24 * time.Hour)
	updated, err := s.UpdateClientExpiry(ctx, c.ID, later)
	require.NoError(t, err)
	assert.True(t, later.Equal(updated.ExpiresAt))

	_, err = s.UpdateClientExpiry(ctx, uuid.New(), later)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetClientByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetClientByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testClientUsernameConflict(t *testing.T, s store.Store) {
	seed(t, s, "alice", time.Now().Add(time.Hour))
	_, err := s.CreateClient(context.Background(), "alice", time.Now())
	assert.ErrorIs(t, err, store.ErrConflict)
}

func testPeerUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, c := seed(t, s, "alice", time.Now().Add(time.Hour))
	first := addPeer(t, s, p, c, store.AppTypeAmneziaWG)

	_, err := s.CreatePeer(ctx, store.NewPeer{
		ClientID: c.ID, ProtocolID: p.ID, AppType: store.AppTypeAmneziaWG,
		PublicKey: "another-key", Address: "10.8.1.3/32",
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreatePeer(ctx, store.NewPeer{
		ClientID: c.ID, ProtocolID: p.ID, AppType: store.AppTypeAmneziaVPN,
		PublicKey: first.PublicKey, Address: "10.8.1.3/32",
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	other, err := s.EnsureProtocol(ctx, "wireguard")
	require.NoError(t, err)
	addPeer(t, s, other, c, store.AppTypeAmneziaWG)
}

func testListClientsByProtocol(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, alice := seed(t, s, "alice", time.Now().Add(time.Hour))
	bob, err := s.CreateClient(ctx, "bob", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = s.CreateClient(ctx, "carol", time.Now().Add(time.Hour))
	require.NoError(t, err)
	other, err := s.EnsureProtocol(ctx, "wireguard")
	require.NoError(t, err)

	addPeer(t, s, p, alice, store.AppTypeAmneziaVPN)
	addPeer(t, s, p, alice, store.AppTypeAmneziaWG)
	addPeer(t, s, other, alice, store.AppTypeAmneziaWG)
	addPeer(t, s, other, bob, store.AppTypeAmneziaWG)

	clients, err := s.ListClientsByProtocol(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, alice.ID, clients[0].ID)
	assert.Len(t, clients[0].Peers, 2)
	for _, peer := range clients[0].Peers {
		assert.Equal(t, p.ID, peer.ProtocolID)
	}

	clients, err = s.ListClientsByProtocol(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

func testListExpiredClients(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()
	p, expired := seed(t, s, "expired", now.Add(-time.Hour))
	active, err := s.CreateClient(ctx, "active", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.CreateClient(ctx, "expired-without-peers", now.Add(-time.Hour))
	require.NoError(t, err)

	addPeer(t, s, p, expired, store.AppTypeAmneziaWG)
	addPeer(t, s, p, active, store.AppTypeAmneziaWG)

	clients, err := s.ListExpiredClients(ctx, p.ID, now)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "expired", clients[0].Username)
	assert.Len(t, clients[0].Peers, 1)
}

func testPeerDetails(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, c := seed(t, s, "alice", time.Now().Add(time.Hour))
	peer := addPeer(t, s, p, c, store.AppTypeAmneziaVPN)
	assert.Nil(t, peer.Endpoint)

	require.NoError(t, s.UpdatePeerEndpoint(ctx, peer.ID, "203.0.113.5:51000"))

	detail, err := s.GetPeerByID(ctx, peer.ID)
	require.NoError(t, err)
	assert.Equal(t, "amneziawg", detail.Protocol)
	assert.Equal(t, "alice", detail.Username)
	assert.Equal(t, store.AppTypeAmneziaVPN, detail.AppType)
	require.NotNil(t, detail.Endpoint)
	assert.Equal(t, "203.0.113.5:51000", *detail.Endpoint)

	byProtocol, err := s.ListPeersByProtocol(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, byProtocol, 1)

	byClient, err := s.ListPeersByClient(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, peer.ID, byClient[0].ID)

	_, err = s.GetPeerByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdatePeerEndpoint(ctx, uuid.New(), "x"), store.ErrNotFound)
}

// Clients outlive their last peer.
func testDeletePeerKeepsClient(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, c := seed(t, s, "alice", time.Now().Add(time.Hour))
	peer := addPeer(t, s, p, c, store.AppTypeAmneziaWG)

	require.NoError(t, s.DeletePeer(ctx, peer.ID))
	assert.ErrorIs(t, s.DeletePeer(ctx, peer.ID), store.ErrNotFound)

	got, err := s.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	peers, err := s.ListPeersByClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func testDeleteClientCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, c := seed(t, s, "alice", time.Now().Add(time.Hour))
	peer := addPeer(t, s, p, c, store.AppTypeAmneziaWG)

	require.NoError(t, s.DeleteClient(ctx, c.ID))
	_, err := s.GetPeerByID(ctx, peer.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteClient(ctx, c.ID), store.ErrNotFound)
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, c := seed(t, s, "alice", time.Now().Add(time.Hour))
	boom := errors.New("daemon failed")

	err := s.InTx(ctx, func(tx store.Store) error {
		addPeer(t, tx, p, c, store.AppTypeAmneziaWG)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	peers, err := s.ListPeersByClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, c := seed(t, s, "alice", time.Now().Add(time.Hour))

	var created store.Peer
	err := s.InTx(ctx, func(tx store.Store) error {
		created = addPeer(t, tx, p, c, store.AppTypeAmneziaWG)
		return tx.InTx(ctx, func(inner store.Store) error {
			return inner.UpdatePeerEndpoint(ctx, created.ID, "198.51.100.7:4000")
		})
	})
	require.NoError(t, err)

	got, err := s.GetPeerByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Endpoint)
	assert.Equal(t, "198.51.100.7:4000", *got.Endpoint)
}
