package wireguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/tunnel-manager/internal/executor"
	"github.com/EternisAI/tunnel-manager/internal/objectstore"
	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/wgconf"
)

const baseConfig = `[Interface]
PrivateKey = c2VydmVy
Address = 10.8.1.1/24
ListenPort = 51820
Jc = 4
H1 = 1
`

// fakeDaemon keeps the config in memory and can fail individual steps.
type fakeDaemon struct {
	sync.Mutex

	mu        sync.Mutex
	config    string
	dump      string
	writes    int
	syncs     int
	failSync  error
	failDump  error
	failWrite error
}

func newFakeDaemon(config string) *fakeDaemon {
	return &fakeDaemon{config: config}
}

func (d *fakeDaemon) Interface() string { return "awg0" }

func (d *fakeDaemon) ReadConfig(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config, nil
}

func (d *fakeDaemon) WriteConfig(_ context.Context, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrite != nil {
		return d.failWrite
	}
	d.writes++
	d.config = content
	return nil
}

func (d *fakeDaemon) SyncConfig(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncs++
	if d.failSync != nil {
		err := d.failSync
		d.failSync = nil
		return err
	}
	return nil
}

func (d *fakeDaemon) Dump(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dump, d.failDump
}

func (d *fakeDaemon) ServerPublicKey(context.Context) (string, error) { return "c2VydmVyLXB1Yg==", nil }
func (d *fakeDaemon) PresharedKey(context.Context) (string, error) { return "cHNr", nil }

func (d *fakeDaemon) currentConfig() *wgconf.File {
	d.mu.Lock()
	defer d.mu.Unlock()
	return wgconf.Parse(d.config)
}

type fakeHost struct {
	running   bool
	port      int
	restarted []string
}

func (h *fakeHost) IsContainerRunning(context.Context, string) bool { return h.running }
func (h *fakeHost) ContainerPort(context.Context, string, string) int { return h.port }
func (h *fakeHost) RestartContainer(_ context.Context, c string) error {
	h.restarted = append(h.restarted, c)
	return nil
}

type failingStorage struct {
	*objectstore.Memory
	failPut     bool
	failPresign bool
}

func (s *failingStorage) PutObject(ctx context.Context, name string, content []byte) error {
	if s.failPut {
		return fmt.Errorf("%w: bucket unavailable", objectstore.ErrStorage)
	}
	return s.Memory.PutObject(ctx, name, content)
}

func (s *failingStorage) PresignedGetURL(ctx context.Context, name string) (string, error) {
	if s.failPresign {
		return "", fmt.Errorf("%w: no credentials", objectstore.ErrStorage)
	}
	return s.Memory.PresignedGetURL(ctx, name)
}

type fixture struct {
	adapter *Adapter
	daemon  *fakeDaemon
	host    *fakeHost
	storage *failingStorage
	store   *store.Memory
	client  store.Client
}

func newFixture(t *testing.T, config string) *fixture {
	t.Helper()
	f := &fixture{
		daemon:  newFakeDaemon(config),
		host:    &fakeHost{running: true, port: 39000},
		storage: &failingStorage{Memory: objectstore.NewMemory()},
		store:   store.NewMemory(),
	}
	f.adapter = New(Settings{
		Name:                "amneziawg",
		Flavour:             FlavourAmneziaWG,
		Container:           "amnezia-awg",
		PublicHost:          "vpn.example.com",
		DNS:                 []string{"1.1.1.1"},
		PersistentKeepalive: 25,
		OnlineThreshold:     180 * time.Second,
	}, f.daemon, f.host, f.storage)

	client, err := f.store.CreateClient(context.Background(), "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	f.client = client
	return f
}

func TestCreatePeer(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()

	created, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	assert.Equal(t, "10.8.1.2/32", created.Peer.Address)
	assert.Equal(t, "configs/amneziawg/"+f.client.ID.String()+"/amnezia_wg", created.ObjectName)
	require.NotNil(t, created.URL)
	assert.Contains(t, created.Config, "Endpoint = vpn.example.com:39000")
	assert.Contains(t, created.Config, "Jc = 4")
	assert.Contains(t, created.Config, "PersistentKeepalive = 25")

	conf := f.daemon.currentConfig()
	assert.True(t, conf.HasPeer(created.Peer.PublicKey))
	assert.Equal(t, 1, f.daemon.syncs)

	stored, err := f.storage.GetObject(ctx, created.ObjectName)
	require.NoError(t, err)
	assert.Equal(t, created.Config, string(stored))

	detail, err := f.store.GetPeerByID(ctx, created.Peer.ID)
	require.NoError(t, err)
	assert.Equal(t, "amneziawg", detail.Protocol)
}

func TestCreatePeer_ShareStringForAmneziaVPN(t *testing.T) {
	f := newFixture(t, baseConfig)
	created, err := f.adapter.CreatePeer(context.Background(), f.store, f.client, store.AppTypeAmneziaVPN)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Config, "vpn://"))

	payload, err := wgconf.DecodeShare(created.Config)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"defaultContainer":"amnezia-awg"`)
}

func TestCreatePeer_Conflict(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()

	_, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)
	before := f.daemon.currentConfig().String()

	_, err = f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, before, f.daemon.currentConfig().String())
	assert.Equal(t, 1, f.storage.Len())
}

func TestCreatePeer_AllocationExhausted(t *testing.T) {
	// a /30 has a single client address
	f := newFixture(t, "[Interface]\nAddress = 10.8.3.1/30\nListenPort = 51820\n")
	ctx := context.Background()

	_, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	_, err = f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaVPN)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrAllocationExhausted)
	assert.NotErrorIs(t, err, protocol.ErrConfigGeneration)
}

func TestCreatePeer_SyncFailureRollsBack(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()
	f.daemon.failSync = &executor.CommandError{Kind: executor.ErrCommandFailed, Stderr: "Line unrecognized"}

	_, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrConfigGeneration)
	assert.ErrorIs(t, err, executor.ErrCommandFailed)

	peers, err := f.store.ListPeersByClient(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Empty(t, peers)
	assert.Empty(t, f.daemon.currentConfig().Peers())
	assert.Equal(t, 0, f.storage.Len())
}

func TestCreatePeer_StorageFailure(t *testing.T) {
	f := newFixture(t, baseConfig)
	f.storage.failPut = true

	_, err := f.adapter.CreatePeer(context.Background(), f.store, f.client, store.AppTypeAmneziaWG)
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrStorage)
	assert.Equal(t, 0, f.daemon.writes)

	peers, err := f.store.ListPeersByClient(context.Background(), f.client.ID)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestCreatePeer_PresignFailureDegrades(t *testing.T) {
	f := newFixture(t, baseConfig)
	f.storage.failPresign = true

	created, err := f.adapter.CreatePeer(context.Background(), f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)
	assert.Nil(t, created.URL)
}

func TestCreatePeer_EndpointFallsBackToListenPort(t *testing.T) {
	f := newFixture(t, baseConfig)
	f.host.port = 0

	created, err := f.adapter.CreatePeer(context.Background(), f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)
	assert.Contains(t, created.Config, "Endpoint = vpn.example.com:51820")
}

func TestCreatePeer_ConcurrentRequestsGetDistinctAddresses(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.store.CreateClient(ctx, fmt.Sprintf("user-%d", i), time.Now().Add(time.Hour))
			if err != nil {
				errs <- err
				return
			}
			_, err = f.adapter.CreatePeer(ctx, f.store, c, store.AppTypeAmneziaWG)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	conf := f.daemon.currentConfig()
	require.Len(t, conf.Peers(), 8)
	seen := map[string]bool{}
	for _, p := range conf.Peers() {
		ip, _ := p.Get(wgconf.KeyAllowedIPs)
		assert.False(t, seen[ip], "duplicate address %s", ip)
		seen[ip] = true
	}
}

func TestDeleteClient(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()
	created, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	ok, err := f.adapter.DeleteClient(ctx, f.store, created.Peer.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.daemon.currentConfig().HasPeer(created.Peer.PublicKey))
	assert.Equal(t, 0, f.storage.Len())

	// the client itself is kept
	_, err = f.store.GetClientByID(ctx, f.client.ID)
	assert.NoError(t, err)

	ok, err = f.adapter.DeleteClient(ctx, f.store, created.Peer.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteClient_UnknownPeer(t *testing.T) {
	f := newFixture(t, baseConfig)
	ok, err := f.adapter.DeleteClient(context.Background(), f.store, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteClient_SyncFailureKeepsRecord(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()
	created, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	f.daemon.failSync = errors.New("interface down")
	ok, err := f.adapter.DeleteClient(ctx, f.store, created.Peer.ID)
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, protocol.ErrConfigGeneration)

	_, err = f.store.GetPeerByID(ctx, created.Peer.ID)
	assert.NoError(t, err)
	assert.True(t, f.daemon.currentConfig().HasPeer(created.Peer.PublicKey))
}

func TestCleanupExpiredClients(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()

	expired, err := f.store.CreateClient(ctx, "expired", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = f.adapter.CreatePeer(ctx, f.store, expired, store.AppTypeAmneziaWG)
	require.NoError(t, err)
	_, err = f.adapter.CreatePeer(ctx, f.store, expired, store.AppTypeAmneziaVPN)
	require.NoError(t, err)
	_, err = f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	count, err := f.adapter.CleanupExpiredClients(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, f.daemon.currentConfig().Peers(), 1)
}

func TestListClients_MergesDump(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()
	created, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	now := time.Now()
	f.adapter.now = func() time.Time { return now }
	f.daemon.dump = strings.Join([]string{
		"cHJpdg==\tcHVi\t51820\toff",
		fmt.Sprintf("%s\t(none)\t203.0.113.5:51000\t10.8.1.2/32\t%d\t100\t50\t25", created.Peer.PublicKey, now.Unix()-10),
		"unknownKey\t(none)\t(none)\t10.8.1.99/32\t0\t0\t0\toff",
	}, "\n")

	clients, err := f.adapter.ListClients(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	pv := clients[0].Peers["amnezia_wg"]
	assert.True(t, pv.Online)
	require.NotNil(t, pv.Endpoint)
	assert.Equal(t, "203.0.113.5:51000", *pv.Endpoint)
}

func TestListClients_DumpFailure(t *testing.T) {
	f := newFixture(t, baseConfig)
	f.daemon.failDump = &executor.CommandError{Kind: executor.ErrTimeout, Command: "awg show"}

	_, err := f.adapter.ListClients(context.Background(), f.store)
	assert.ErrorIs(t, err, executor.ErrTimeout)
}

func TestServerStatusAndRestart(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()

	status, err := f.adapter.ServerStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 39000, status.Port)
	assert.Equal(t, "awg0", status.Interface)

	require.NoError(t, f.adapter.RestartServer(ctx))
	assert.Equal(t, []string{"amnezia-awg"}, f.host.restarted)
}

func TestStoredConfig(t *testing.T) {
	f := newFixture(t, baseConfig)
	ctx := context.Background()
	created, err := f.adapter.CreatePeer(ctx, f.store, f.client, store.AppTypeAmneziaWG)
	require.NoError(t, err)

	text, url, err := f.adapter.StoredConfig(ctx, f.client.ID, store.AppTypeAmneziaWG)
	require.NoError(t, err)
	assert.Equal(t, created.Config, text)
	assert.NotNil(t, url)

	_, _, err = f.adapter.StoredConfig(ctx, f.client.ID, store.AppTypeAmneziaVPN)
	assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}
