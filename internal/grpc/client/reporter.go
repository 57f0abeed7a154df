// Package client pushes peer status reports to the central collector.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EternisAI/tunnel-manager/internal/grpc/collector"
	grpctls "github.com/EternisAI/tunnel-manager/internal/grpc/tls"
	"github.com/EternisAI/tunnel-manager/internal/peersync"
)

const defaultCallTimeout = 10 * time.Second

type Config struct {
	Address     string
	ClusterID   string
	APIKey      string
	CallTimeout time.Duration
	TLS         grpctls.Config
}

type Reporter struct {
	conn    *grpc.ClientConn
	config  Config
	timeout time.Duration
}

var _ peersync.Reporter = (*Reporter)(nil)

// NewReporter creates a lazily connecting client. Extra dial options are
// appended after the transport credentials.
func NewReporter(config Config, opts ...grpc.DialOption) (*Reporter, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("central collector address is required")
	}

	creds := grpc.WithTransportCredentials(insecure.NewCredentials())
	if config.TLS.Enabled {
		tc, err := grpctls.LoadClientCredentials(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		creds = grpc.WithTransportCredentials(tc)
	}

	conn, err := grpc.NewClient(config.Address, append([]grpc.DialOption{creds}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector client: %w", err)
	}

	timeout := config.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	slog.Info("Central reporter configured", "address", config.Address, "cluster_id", config.ClusterID, "tls", config.TLS.Enabled)
	return &Reporter{conn: conn, config: config, timeout: timeout}, nil
}

func (r *Reporter) ReportPeers(ctx context.Context, report peersync.Report) error {
	payload, err := toStruct(report)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx,
		collector.MetadataAPIKey, r.config.APIKey,
		collector.MetadataClusterID, r.config.ClusterID,
	)

	if err := r.conn.Invoke(ctx, collector.ReportPeersMethod, payload, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to report peers: %w", err)
	}
	slog.Debug("Peer report sent", "protocol", report.Protocol, "peers", len(report.Peers))
	return nil
}

func (r *Reporter) Close() error {
	return r.conn.Close()
}

// toStruct goes through JSON so the payload keeps the same field names as
// the HTTP API.
func toStruct(report peersync.Report) (*structpb.Struct, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return payload, nil
}
