// Package store persists protocols, clients and peers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Store interface {
	GetProtocolByName(ctx context.Context, name string) (Protocol, error)
	// EnsureProtocol returns the protocol with name, creating it if needed.
	EnsureProtocol(ctx context.Context, name string) (Protocol, error)
	ListProtocols(ctx context.Context) ([]Protocol, error)

	// CreateClient fails with ErrConflict when username is taken.
	CreateClient(ctx context.Context, username string, expiresAt time.Time) (Client, error)
	GetClientByID(ctx context.Context, id uuid.UUID) (Client, error)
	GetClientByUsername(ctx context.Context, username string) (Client, error)
	UpdateClientExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) (Client, error)
	// DeleteClient removes the client and, by cascade, its peers.
	DeleteClient(ctx context.Context, id uuid.UUID) error
	// ListClientsByProtocol returns clients owning at least one peer of
	// the protocol, each with those peers attached.
	ListClientsByProtocol(ctx context.Context, protocolID uuid.UUID) ([]Client, error)
	// ListExpiredClients is ListClientsByProtocol restricted to clients
	// whose expiry is before now.
	ListExpiredClients(ctx context.Context, protocolID uuid.UUID, now time.Time) ([]Client, error)

	// CreatePeer fails with ErrConflict when the client already has a peer
	// of that app type on the protocol, or the public key is reused.
	CreatePeer(ctx context.Context, p NewPeer) (Peer, error)
	GetPeerByID(ctx context.Context, id uuid.UUID) (PeerDetail, error)
	ListPeersByProtocol(ctx context.Context, protocolID uuid.UUID) ([]PeerDetail, error)
	ListPeersByClient(ctx context.Context, clientID uuid.UUID) ([]PeerDetail, error)
	DeletePeer(ctx context.Context, id uuid.UUID) error
	UpdatePeerEndpoint(ctx context.Context, id uuid.UUID, endpoint string) error

	// InTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error
}
