// Package protocoltest provides a testify mock of protocol.Adapter. CreatePeer
// and DeleteClient also accept a function with the method's signature as
// their first return value and call it.
package protocoltest

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/view"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
)

type Adapter struct {
	mock.Mock
	name string
}

var _ protocol.Adapter = (*Adapter)(nil)

func New(name string) *Adapter {
	return &Adapter{name: name}
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) ProtocolID(ctx context.Context, st store.Store) (uuid.UUID, error) {
	args := a.Called(ctx, st)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (a *Adapter) ListClients(ctx context.Context, st store.Store) ([]view.Client, error) {
	args := a.Called(ctx, st)
	clients, _ := args.Get(0).([]view.Client)
	return clients, args.Error(1)
}

func (a *Adapter) CreatePeer(ctx context.Context, st store.Store, client store.Client, appType store.AppType) (*protocol.CreatedPeer, error) {
	args := a.Called(ctx, st, client, appType)
	if fn, ok := args.Get(0).(func(context.Context, store.Store, store.Client, store.AppType) (*protocol.CreatedPeer, error)); ok {
		return fn(ctx, st, client, appType)
	}
	created, _ := args.Get(0).(*protocol.CreatedPeer)
	return created, args.Error(1)
}

func (a *Adapter) DeleteClient(ctx context.Context, st store.Store, peerID uuid.UUID) (bool, error) {
	args := a.Called(ctx, st, peerID)
	if fn, ok := args.Get(0).(func(context.Context, store.Store, uuid.UUID) (bool, error)); ok {
		return fn(ctx, st, peerID)
	}
	return args.Bool(0), args.Error(1)
}

func (a *Adapter) CleanupExpiredClients(ctx context.Context, st store.Store) (int, error) {
	args := a.Called(ctx, st)
	return args.Int(0), args.Error(1)
}

func (a *Adapter) LiveState(ctx context.Context) (map[string]wgdump.PeerState, error) {
	args := a.Called(ctx)
	live, _ := args.Get(0).(map[string]wgdump.PeerState)
	return live, args.Error(1)
}

func (a *Adapter) StoredConfig(ctx context.Context, clientID uuid.UUID, appType store.AppType) (string, *string, error) {
	args := a.Called(ctx, clientID, appType)
	url, _ := args.Get(1).(*string)
	return args.String(0), url, args.Error(2)
}

func (a *Adapter) ServerStatus(ctx context.Context) (protocol.ServerStatus, error) {
	args := a.Called(ctx)
	status, _ := args.Get(0).(protocol.ServerStatus)
	return status, args.Error(1)
}

func (a *Adapter) RestartServer(ctx context.Context) error {
	return a.Called(ctx).Error(0)
}
