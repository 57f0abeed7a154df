package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EternisAI/tunnel-manager/internal/auth"
	"github.com/EternisAI/tunnel-manager/internal/daemon"
	"github.com/EternisAI/tunnel-manager/internal/db"
	"github.com/EternisAI/tunnel-manager/internal/executor"
	"github.com/EternisAI/tunnel-manager/internal/grpc/client"
	"github.com/EternisAI/tunnel-manager/internal/objectstore"
	"github.com/EternisAI/tunnel-manager/internal/peersync"
	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/protocol/wireguard"
	"github.com/EternisAI/tunnel-manager/internal/publicaddr"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
	"github.com/EternisAI/tunnel-manager/internal/scheduler"
	"github.com/EternisAI/tunnel-manager/internal/store"
	"github.com/EternisAI/tunnel-manager/internal/sweeper"
)

type daemonTarget struct {
	container string
	iface     string
}

// daemonPool hands out one Connection per container interface, so adapters
// on the same daemon share its write lock. The first entry's tool settings
// win.
type daemonPool struct {
	runner func(container string) executor.Runner
	conns  map[daemonTarget]*daemon.Connection
}

func newDaemonPool(runner func(container string) executor.Runner) *daemonPool {
	return &daemonPool{runner: runner, conns: make(map[daemonTarget]*daemon.Connection)}
}

func (p *daemonPool) get(entry ProtocolSpec) *daemon.Connection {
	key := daemonTarget{container: entry.Container, iface: entry.Interface}
	if conn, ok := p.conns[key]; ok {
		slog.Warn("Protocols share a daemon", "container", entry.Container, "interface", entry.Interface)
		return conn
	}
	timeout, _ := entry.timeout()
	conn := daemon.New(p.runner(entry.Container), daemon.Options{
		Interface: entry.Interface,
		ConfigDir: entry.ConfigDir,
		Tool:      entry.Tool,
		QuickTool: entry.QuickTool,
		Timeout:   timeout,
	})
	p.conns[key] = conn
	return conn
}

// App is the wired service graph.
type App struct {
	Config    Config
	Store     store.Store
	Storage   objectstore.Storage
	Registry  *protocol.Registry
	Service   *reconcile.Service
	Sweeper   *sweeper.Sweeper
	Syncer    *peersync.Syncer
	Scheduler *scheduler.Scheduler
	Auth      *auth.Service

	pool      *pgxpool.Pool
	reporter  *client.Reporter
	closeOnce sync.Once
}

type options struct {
	containerRunner func(container string) executor.Runner
	hostRunner      executor.Runner
	skipMigrations  bool
}

type Option func(*options)

// WithRunners replaces the docker-backed command runners.
func WithRunners(container func(string) executor.Runner, host executor.Runner) Option {
	return func(o *options) {
		o.containerRunner = container
		o.hostRunner = host
	}
}

// WithoutMigrations skips schema migrations on startup.
func WithoutMigrations() Option {
	return func(o *options) { o.skipMigrations = true }
}

func New(ctx context.Context, cfg Config, catalog Catalog, opts ...Option) (*App, error) {
	o := options{
		containerRunner: func(container string) executor.Runner { return executor.NewContainerShell(container) },
		hostRunner:      executor.NewHostShell(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStore(ctx, o.skipMigrations); err != nil {
		return nil, err
	}
	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	host, err := publicaddr.Resolve(ctx, cfg.Server.PublicHost, cfg.Server.StunServers, 0)
	if err != nil {
		return nil, fmt.Errorf("server.public_host is not set and discovery failed: %w", err)
	}

	names := make([]string, 0, len(catalog.Protocols))
	for name := range catalog.Protocols {
		names = append(names, name)
	}
	sort.Strings(names)

	hostCtl := executor.NewHost(o.hostRunner)
	daemons := newDaemonPool(o.containerRunner)
	adapters := make([]protocol.Adapter, 0, len(names))
	for _, name := range names {
		entry := catalog.Protocols[name]
		conn := daemons.get(entry)
		adapter := wireguard.New(wireguard.Settings{
			Name:                protocol.Normalize(name),
			Flavour:             entry.Flavour,
			Container:           entry.Container,
			PublicHost:          host,
			EndpointPort:        entry.EndpointPort,
			DNS:                 cfg.Peers.DNS,
			PersistentKeepalive: cfg.Peers.PersistentKeepaliveSeconds,
			OnlineThreshold:     time.Duration(cfg.Peers.OnlineThresholdSeconds) * time.Second,
		}, conn, hostCtl, a.Storage)
		if _, err := adapter.ProtocolID(ctx, a.Store); err != nil {
			return nil, fmt.Errorf("register protocol %s: %w", name, err)
		}
		adapters = append(adapters, adapter)
		slog.Info("Protocol registered", "protocol", name, "container", entry.Container, "interface", entry.Interface)
	}

	a.Registry, err = protocol.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	if _, err := a.Registry.Get(cfg.DefaultProtocol); err != nil {
		return nil, fmt.Errorf("default_protocol: %w", err)
	}

	a.Service = reconcile.NewService(a.Store, a.Registry, a.Storage, reconcile.Config{
		DefaultExpiry: time.Duration(cfg.Peers.DefaultExpiryDays) * 24 * time.Hour,
	})
	a.Sweeper = sweeper.New(a.Store, a.Registry)

	var reporter peersync.Reporter
	if cfg.Central.Address != "" {
		a.reporter, err = client.NewReporter(client.Config{
			Address:   cfg.Central.Address,
			ClusterID: cfg.Central.ClusterID,
			APIKey:    cfg.Central.APIKey,
			TLS:       cfg.Central.TLS,
		})
		if err != nil {
			return nil, err
		}
		reporter = a.reporter
	}
	a.Syncer = peersync.New(a.Store, a.Registry, reporter, a.Sweeper)
	a.Scheduler = scheduler.New("peer-sync", time.Duration(cfg.Sync.IntervalSeconds)*time.Second, a.Syncer.Sync)
	a.Auth = auth.NewService(cfg.Http.AdminAPIKey, auth.JWTConfig{Secret: cfg.Http.JWTSecret, TokenTTL: cfg.Http.TokenTTL})

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context, skipMigrations bool) error {
	if a.Config.DB.Url == "" {
		slog.Warn("db.url is not set, using in-memory store; data is lost on restart")
		a.Store = store.NewMemory()
		return nil
	}
	if !skipMigrations {
		if err := db.RunMigrations(ctx, a.Config.DB); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	pool, err := db.InitDB(ctx, a.Config.DB)
	if err != nil {
		return err
	}
	a.pool = pool
	a.Store = store.NewPostgres(pool)
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	sc := a.Config.Storage
	if sc.Bucket == "" {
		slog.Warn("storage.bucket is not set, keeping peer configs in memory")
		a.Storage = objectstore.NewMemory()
		return nil
	}
	s3, err := objectstore.NewS3(objectstore.S3Config{
		Bucket:         sc.Bucket,
		Region:         sc.Region,
		Endpoint:       sc.Endpoint,
		AccessKey:      sc.AccessKey,
		SecretKey:      sc.SecretKey,
		PresignTTL:     sc.PresignTTL,
		ForcePathStyle: sc.ForcePathStyle,
	})
	if err != nil {
		return err
	}
	if sc.EnsureBucket {
		if err := s3.EnsureBucket(ctx); err != nil {
			return err
		}
	}
	a.Storage = s3
	return nil
}

// Start launches background work enabled by configuration.
func (a *App) Start(ctx context.Context) {
	if a.Config.Sync.Enabled {
		a.Scheduler.Start(ctx)
	} else {
		slog.Info("Peer sync scheduler disabled")
	}
}

// Close stops the scheduler and releases connections. It is safe to call
// more than once.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.reporter != nil {
		if err := a.reporter.Close(); err != nil {
			slog.Warn("Failed to close central reporter", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
