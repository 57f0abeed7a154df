package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc/credentials"

	"github.com/EternisAI/tunnel-manager/internal/app"
	"github.com/EternisAI/tunnel-manager/internal/cert"
	"github.com/EternisAI/tunnel-manager/internal/db"
	"github.com/EternisAI/tunnel-manager/internal/grpc/collector"
	grpctls "github.com/EternisAI/tunnel-manager/internal/grpc/tls"
	"github.com/EternisAI/tunnel-manager/internal/wgkey"
)

var flagConfigDir *cli.StringFlag = &cli.StringFlag{
	Name:  "config-dir",
	Value: "./cmd/tunnel-manager-server",
	Usage: "Extra directory searched for application.yaml",
}

var flagProtocol *cli.StringFlag = &cli.StringFlag{
	Name:  "protocol",
	Usage: "Protocol name, defaults to default_protocol",
}

var flagCollectorPort *cli.IntFlag = &cli.IntFlag{
	Name:  "port",
	Value: 9443,
	Usage: "Port the collector listens on",
}

var flagCollectorAPIKey *cli.StringFlag = &cli.StringFlag{
	Name:    "api-key",
	EnvVars: []string{"COLLECTOR_API_KEY"},
	Usage:   "API key reporters must present",
}

var flagTLSCert *cli.StringFlag = &cli.StringFlag{Name: "tls-cert", Usage: "Server certificate file"}
var flagTLSKey *cli.StringFlag = &cli.StringFlag{Name: "tls-key", Usage: "Server key file"}
var flagTLSCA *cli.StringFlag = &cli.StringFlag{Name: "tls-ca", Usage: "CA file used to verify reporter certificates"}
var flagClientAuth *cli.StringFlag = &cli.StringFlag{Name: "client-auth", Usage: "none, request or require"}

var flagCertDir *cli.StringFlag = &cli.StringFlag{
	Name:  "dir",
	Value: "./certs",
	Usage: "Directory holding the CA and issued certificates",
}

var flagCertHost *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "host",
	Usage: "DNS name or IP of the collector, repeatable",
}

var flagCertCluster *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "cluster",
	Usage: "Cluster id to issue a client certificate for, repeatable",
}

func loadConfig(cCtx *cli.Context) (app.Config, error) {
	cfg, err := app.LoadConfig(cCtx.String(flagConfigDir.Name))
	if err != nil {
		return app.Config{}, err
	}
	initLogger(cfg.Log.Level)
	return cfg, nil
}

func withApp(cCtx *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	catalog, err := app.LoadCatalog(cfg.ProtocolsFile)
	if err != nil {
		return err
	}
	a, err := app.New(cCtx.Context, cfg, catalog)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cCtx.Context, a)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	cliApp := &cli.App{
		Name:  "tunnel-manager-cli",
		Usage: "Operator commands for the tunnel manager",
		Flags: []cli.Flag{flagConfigDir},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "Apply pending migrations",
						Action: func(cCtx *cli.Context) error {
							cfg, err := loadConfig(cCtx)
							if err != nil {
								return err
							}
							return db.RunMigrations(cCtx.Context, cfg.DB)
						},
					},
					{
						Name:  "status",
						Usage: "List migrations and whether they are applied",
						Action: func(cCtx *cli.Context) error {
							cfg, err := loadConfig(cCtx)
							if err != nil {
								return err
							}
							states, err := db.MigrationStatus(cCtx.Context, cfg.DB)
							if err != nil {
								return err
							}
							for _, s := range states {
								applied := "pending"
								if s.Applied {
									applied = s.AppliedAt.Format(time.RFC3339)
								}
								fmt.Printf("%05d  %-30s %s\n", s.Version, s.Path, applied)
							}
							return nil
						},
					},
					{
						Name:  "down",
						Usage: "Roll back the most recent migration",
						Action: func(cCtx *cli.Context) error {
							cfg, err := loadConfig(cCtx)
							if err != nil {
								return err
							}
							return db.RollbackMigration(cCtx.Context, cfg.DB)
						},
					},
				},
			},
			{
				Name:  "cleanup",
				Usage: "Remove peers of expired clients",
				Action: func(cCtx *cli.Context) error {
					return withApp(cCtx, func(ctx context.Context, a *app.App) error {
						removed := a.Sweeper.Run(ctx)
						fmt.Printf("removed %d peers\n", removed)
						return nil
					})
				},
			},
			{
				Name:  "sync",
				Usage: "Run one peer sync pass",
				Action: func(cCtx *cli.Context) error {
					return withApp(cCtx, func(ctx context.Context, a *app.App) error {
						reported, err := a.Syncer.Sync(ctx)
						fmt.Printf("reported %d protocols\n", reported)
						return err
					})
				},
			},
			{
				Name:  "traffic",
				Usage: "Print aggregated traffic counters",
				Flags: []cli.Flag{flagProtocol},
				Action: func(cCtx *cli.Context) error {
					return withApp(cCtx, func(ctx context.Context, a *app.App) error {
						name := cCtx.String(flagProtocol.Name)
						if name == "" {
							name = a.Config.DefaultProtocol
						}
						totals, err := a.Service.ServerTraffic(ctx, name)
						if err != nil {
							return err
						}
						return printJSON(totals)
					})
				},
			},
			{
				Name:  "keygen",
				Usage: "Generate a key pair and preshared key",
				Action: func(cCtx *cli.Context) error {
					pair, err := wgkey.GenerateKeyPair()
					if err != nil {
						return err
					}
					psk, err := wgkey.GeneratePresharedKey()
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"private_key":   pair.PrivateKey,
						"public_key":    pair.PublicKey,
						"preshared_key": psk,
					})
				},
			},
			{
				Name:  "certs",
				Usage: "Create the collector CA and issue cluster certificates",
				Flags: []cli.Flag{flagCertDir, flagCertHost, flagCertCluster},
				Action: func(cCtx *cli.Context) error {
					initLogger("INFO")
					opts := &cert.Options{}
					for _, host := range cCtx.StringSlice(flagCertHost.Name) {
						if ip := net.ParseIP(host); ip != nil {
							opts.IPAddresses = append(opts.IPAddresses, ip)
						} else {
							opts.DomainNames = append(opts.DomainNames, host)
						}
					}
					service, err := cert.New(cCtx.String(flagCertDir.Name), opts)
					if err != nil {
						return err
					}
					for _, clusterID := range cCtx.StringSlice(flagCertCluster.Name) {
						if _, err := service.IssueClusterCert(clusterID); err != nil {
							return err
						}
						fmt.Printf("%s: %s %s\n", clusterID, service.ClusterCertPath(clusterID), service.ClusterKeyPath(clusterID))
					}
					return nil
				},
			},
			{
				Name:  "collector",
				Usage: "Run a standalone status collector (development)",
				Flags: []cli.Flag{flagCollectorPort, flagCollectorAPIKey, flagTLSCert, flagTLSKey, flagTLSCA, flagClientAuth},
				Action: func(cCtx *cli.Context) error {
					initLogger("INFO")
					var creds credentials.TransportCredentials
					if certFile := cCtx.String(flagTLSCert.Name); certFile != "" {
						var err error
						creds, err = grpctls.LoadServerCredentials(grpctls.Config{
							CAFile:     cCtx.String(flagTLSCA.Name),
							CertFile:   certFile,
							KeyFile:    cCtx.String(flagTLSKey.Name),
							ClientAuth: cCtx.String(flagClientAuth.Name),
						})
						if err != nil {
							return err
						}
					}
					server := collector.NewServer(cCtx.Int(flagCollectorPort.Name), collector.NewCollector(cCtx.String(flagCollectorAPIKey.Name)), creds)

					errChan := make(chan error, 1)
					go func() { errChan <- server.Start() }()
					select {
					case err := <-errChan:
						return err
					case <-cCtx.Context.Done():
					}
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return server.Stop(ctx)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
