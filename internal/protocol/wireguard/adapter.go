// Package wireguard implements protocol.Adapter for WireGuard-family daemons
// (AmneziaWG and plain WireGuard) running in a container.
package wireguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/tunnel-manager/internal/objectstore"
	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/view"
	"github.com/EternisAI/tunnel-manager/internal/wgconf"
	"github.com/EternisAI/tunnel-manager/internal/wgdump"
	"github.com/EternisAI/tunnel-manager/internal/wgkey"
)

const defaultListenPort = 51820

// Daemon is the daemon target an adapter drives. The lock must be held
// across read-config, modify, write and sync.
type Daemon interface {
	sync.Locker
	Interface() string
	ReadConfig(ctx context.Context) (string, error)
	WriteConfig(ctx context.Context, content string) error
	SyncConfig(ctx context.Context) error
	Dump(ctx context.Context) (string, error)
	ServerPublicKey(ctx context.Context) (string, error)
	PresharedKey(ctx context.Context) (string, error)
}

// Host controls the daemon's container from outside.
type Host interface {
	IsContainerRunning(ctx context.Context, container string) bool
	ContainerPort(ctx context.Context, container, transport string) int
	RestartContainer(ctx context.Context, container string) error
}

type Flavour string

const (
	FlavourAmneziaWG Flavour = "amneziawg"
	FlavourWireGuard Flavour = "wireguard"
)

// shareProfile is the AmneziaVPN container profile used in vpn:// strings.
func (f Flavour) shareProfile() (container, key string) {
	if f == FlavourWireGuard {
		return "amnezia-wireguard", "wireguard"
	}
	return "amnezia-awg", "awg"
}

type Settings struct {
	Name      string
	Flavour   Flavour
	Container string
	// PublicHost is the address clients dial.
	PublicHost string
	// EndpointPort overrides port discovery when set.
	EndpointPort        int
	DNS                 []string
	PersistentKeepalive int
	OnlineThreshold     time.Duration
}

type Adapter struct {
	settings Settings
	daemon   Daemon
	host     Host
	configs  objectstore.Storage
	now      func() time.Time
}

var _ protocol.Adapter = (*Adapter)(nil)

func New(settings Settings, daemon Daemon, host Host, configs objectstore.Storage) *Adapter {
	if settings.Flavour == "" {
		settings.Flavour = FlavourAmneziaWG
	}
	if settings.OnlineThreshold <= 0 {
		settings.OnlineThreshold = 180 * time.Second
	}
	return &Adapter{
		settings: settings,
		daemon:   daemon,
		host:     host,
		configs:  configs,
		now:      time.Now,
	}
}

func (a *Adapter) Name() string {
	return a.settings.Name
}

func (a *Adapter) ProtocolID(ctx context.Context, st store.Store) (uuid.UUID, error) {
	p, err := st.EnsureProtocol(ctx, a.settings.Name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve protocol %s: %w", a.settings.Name, err)
	}
	return p.ID, nil
}

func (a *Adapter) LiveState(ctx context.Context) (map[string]wgdump.PeerState, error) {
	dump, err := a.daemon.Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s dump: %w", a.settings.Name, err)
	}
	return wgdump.Parse(dump, a.now(), a.settings.OnlineThreshold), nil
}

func (a *Adapter) ListClients(ctx context.Context, st store.Store) ([]view.Client, error) {
	protocolID, err := a.ProtocolID(ctx, st)
	if err != nil {
		return nil, err
	}
	clients, err := st.ListClientsByProtocol(ctx, protocolID)
	if err != nil {
		return nil, fmt.Errorf("list %s clients: %w", a.settings.Name, err)
	}
	live, err := a.LiveState(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]view.Client, 0, len(clients))
	for _, c := range clients {
		out = append(out, view.FormatClientWithPeers(ctx, c, a.settings.Name, live, a.configs))
	}
	return out, nil
}

func generationErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", protocol.ErrConfigGeneration, step, err)
}

func (a *Adapter) CreatePeer(ctx context.Context, st store.Store, client store.Client, appType store.AppType) (*protocol.CreatedPeer, error) {
	if !appType.Valid() {
		return nil, fmt.Errorf("invalid app type %q", appType)
	}
	protocolID, err := a.ProtocolID(ctx, st)
	if err != nil {
		return nil, err
	}

	a.daemon.Lock()
	defer a.daemon.Unlock()

	original, err := a.daemon.ReadConfig(ctx)
	if err != nil {
		return nil, generationErr("read server config", err)
	}
	conf := wgconf.Parse(original)

	address, err := conf.AllocateAddress()
	if err != nil {
		if errors.Is(err, wgconf.ErrPoolExhausted) {
			return nil, fmt.Errorf("%w: %w", protocol.ErrAllocationExhausted, err)
		}
		return nil, generationErr("allocate address", err)
	}

	keys, err := wgkey.GenerateKeyPair()
	if err != nil {
		return nil, generationErr("generate keys", err)
	}
	serverKey, err := a.daemon.ServerPublicKey(ctx)
	if err != nil {
		return nil, generationErr("read server public key", err)
	}
	psk, err := a.daemon.PresharedKey(ctx)
	if err != nil {
		return nil, generationErr("read preshared key", err)
	}
	host, port, err := a.endpoint(ctx, conf)
	if err != nil {
		return nil, generationErr("resolve endpoint", err)
	}

	clientCfg := wgconf.ClientConfig{
		Name:                client.Username,
		PrivateKey:          keys.PrivateKey,
		PublicKey:           keys.PublicKey,
		Address:             address.String(),
		DNS:                 a.settings.DNS,
		ServerPublicKey:     serverKey,
		PresharedKey:        psk,
		Host:                host,
		Port:                port,
		PersistentKeepalive: a.settings.PersistentKeepalive,
		Obfuscation:         conf.Obfuscation(),
	}
	text, err := a.render(clientCfg, appType)
	if err != nil {
		return nil, generationErr("render client config", err)
	}

	objectName := objectstore.ObjectName(a.settings.Name, client.ID, string(appType))
	var (
		peer     store.Peer
		uploaded bool
		applied  bool
	)
	err = st.InTx(ctx, func(tx store.Store) error {
		var err error
		peer, err = tx.CreatePeer(ctx, store.NewPeer{
			ClientID:   client.ID,
			ProtocolID: protocolID,
			AppType:    appType,
			PublicKey:  keys.PublicKey,
			Address:    address.String(),
		})
		if err != nil {
			return err
		}

		if err := a.configs.PutObject(ctx, objectName, []byte(text)); err != nil {
			return err
		}
		uploaded = true

		conf.AddPeer(wgconf.Peer{
			Comment:      client.Username + " " + string(appType),
			PublicKey:    keys.PublicKey,
			PresharedKey: psk,
			AllowedIPs:   []string{address.String()},
		})
		applied = true
		if err := a.apply(ctx, conf.String()); err != nil {
			return generationErr("apply server config", err)
		}
		return nil
	})
	if err != nil {
		if applied {
			a.restore(ctx, original)
		}
		if uploaded {
			if delErr := a.configs.DeleteObject(ctx, objectName); delErr != nil {
				slog.Warn("Failed to remove orphaned config object", "object", objectName, "error", delErr)
			}
		}
		slog.Error("Peer creation failed", "protocol", a.settings.Name, "client", client.Username, "app_type", appType, "error", err)
		return nil, err
	}

	slog.Info("Peer created", "protocol", a.settings.Name, "client", client.Username, "app_type", appType, "address", address.String())
	return &protocol.CreatedPeer{
		Peer:       peer,
		Config:     text,
		ObjectName: objectName,
		URL:        a.presign(ctx, objectName),
	}, nil
}

func (a *Adapter) render(c wgconf.ClientConfig, appType store.AppType) (string, error) {
	if appType == store.AppTypeAmneziaVPN {
		container, key := a.settings.Flavour.shareProfile()
		return wgconf.RenderShare(c, container, key)
	}
	return wgconf.RenderClient(c)
}

// endpoint resolves the host:port clients connect to. The port comes from
// settings, then the container's published UDP port, then ListenPort.
func (a *Adapter) endpoint(ctx context.Context, conf *wgconf.File) (string, int, error) {
	if a.settings.PublicHost == "" {
		return "", 0, fmt.Errorf("public host is not configured")
	}
	if a.settings.EndpointPort > 0 {
		return a.settings.PublicHost, a.settings.EndpointPort, nil
	}
	if a.host != nil && a.settings.Container != "" {
		if port := a.host.ContainerPort(ctx, a.settings.Container, "udp"); port > 0 {
			return a.settings.PublicHost, port, nil
		}
	}
	if iface, err := conf.Interface(); err == nil {
		if value, ok := iface.Get(wgconf.KeyListenPort); ok {
			if port, err := strconv.Atoi(value); err == nil && port > 0 {
				return a.settings.PublicHost, port, nil
			}
		}
	}
	return a.settings.PublicHost, defaultListenPort, nil
}

func (a *Adapter) apply(ctx context.Context, content string) error {
	if err := a.daemon.WriteConfig(ctx, content); err != nil {
		return err
	}
	return a.daemon.SyncConfig(ctx)
}

// restore puts the previous config back after a failed mutation. It uses a
// fresh context so a cancelled request still leaves the daemon consistent.
func (a *Adapter) restore(ctx context.Context, original string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.apply(ctx, original); err != nil {
		slog.Error("Failed to restore daemon config", "protocol", a.settings.Name, "error", err)
		return
	}
	slog.Warn("Daemon config restored after failed change", "protocol", a.settings.Name)
}

func (a *Adapter) presign(ctx context.Context, objectName string) *string {
	url, err := a.configs.PresignedGetURL(ctx, objectName)
	if err != nil {
		slog.Warn("Failed to generate presigned URL", "object", objectName, "error", err)
		return nil
	}
	return &url
}

func (a *Adapter) DeleteClient(ctx context.Context, st store.Store, peerID uuid.UUID) (bool, error) {
	peer, err := st.GetPeerByID(ctx, peerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if protocol.Normalize(peer.Protocol) != protocol.Normalize(a.settings.Name) {
		slog.Warn("Peer belongs to another protocol", "peer_id", peerID, "protocol", peer.Protocol, "adapter", a.settings.Name)
		return false, nil
	}

	a.daemon.Lock()
	defer a.daemon.Unlock()

	original, err := a.daemon.ReadConfig(ctx)
	if err != nil {
		return false, generationErr("read server config", err)
	}
	conf := wgconf.Parse(original)
	removed := conf.RemovePeer(peer.PublicKey)
	if !removed {
		slog.Warn("Peer missing from daemon config", "peer_id", peerID, "public_key", peer.PublicKey)
	}

	applied := false
	err = st.InTx(ctx, func(tx store.Store) error {
		if err := tx.DeletePeer(ctx, peerID); err != nil {
			return err
		}
		if !removed {
			return nil
		}
		applied = true
		if err := a.apply(ctx, conf.String()); err != nil {
			return generationErr("apply server config", err)
		}
		return nil
	})
	if err != nil {
		if applied {
			a.restore(ctx, original)
		}
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	objectName := objectstore.ObjectName(a.settings.Name, peer.ClientID, string(peer.AppType))
	if err := a.configs.DeleteObject(ctx, objectName); err != nil {
		slog.Warn("Failed to delete config object", "object", objectName, "error", err)
	}

	slog.Info("Peer deleted", "protocol", a.settings.Name, "peer_id", peerID, "client", peer.Username)
	return true, nil
}

func (a *Adapter) CleanupExpiredClients(ctx context.Context, st store.Store) (int, error) {
	return protocol.CleanupExpiredClients(ctx, st, a.settings.Name, a)
}

func (a *Adapter) StoredConfig(ctx context.Context, clientID uuid.UUID, appType store.AppType) (string, *string, error) {
	objectName := objectstore.ObjectName(a.settings.Name, clientID, string(appType))
	data, err := a.configs.GetObject(ctx, objectName)
	if err != nil {
		return "", nil, err
	}
	return string(data), a.presign(ctx, objectName), nil
}

func (a *Adapter) ServerStatus(ctx context.Context) (protocol.ServerStatus, error) {
	status := protocol.ServerStatus{
		Protocol:  a.settings.Name,
		Container: a.settings.Container,
		Interface: a.daemon.Interface(),
		Host:      a.settings.PublicHost,
	}
	if a.host == nil || a.settings.Container == "" {
		return status, nil
	}
	status.Running = a.host.IsContainerRunning(ctx, a.settings.Container)
	if status.Running {
		status.Port = a.host.ContainerPort(ctx, a.settings.Container, "udp")
	}
	return status, nil
}

func (a *Adapter) RestartServer(ctx context.Context) error {
	if a.host == nil || a.settings.Container == "" {
		return fmt.Errorf("%s has no container to restart", a.settings.Name)
	}
	if err := a.host.RestartContainer(ctx, a.settings.Container); err != nil {
		return fmt.Errorf("restart %s: %w", a.settings.Container, err)
	}
	slog.Info("Container restarted", "protocol", a.settings.Name, "container", a.settings.Container)
	return nil
}
