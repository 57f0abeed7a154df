// Package collector is the receiving side of peer status reports. The
// service is described by hand so no generated code is needed; messages
// are the well-known Struct and Empty types.
package collector

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName       = "tunnelmanager.central.v1.StatusCollector"
	ReportPeersMethod = "/" + ServiceName + "/ReportPeers"

	MetadataAPIKey    = "x-api-key"
	MetadataClusterID = "x-cluster-id"
)

type StatusCollectorServer interface {
	ReportPeers(ctx context.Context, payload *structpb.Struct) (*emptypb.Empty, error)
}

func reportPeersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusCollectorServer).ReportPeers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReportPeersMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusCollectorServer).ReportPeers(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatusCollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportPeers", Handler: reportPeersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tunnelmanager/central/v1/collector.proto",
}

func RegisterStatusCollectorServer(s grpc.ServiceRegistrar, srv StatusCollectorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Received is one accepted report.
type Received struct {
	ClusterID  string
	Payload    *structpb.Struct
	ReceivedAt time.Time
}

// Collector keeps the latest report per cluster and protocol in memory.
type Collector struct {
	apiKey string

	mu     sync.RWMutex
	latest map[string]Received
}

var _ StatusCollectorServer = (*Collector)(nil)

// NewCollector accepts reports carrying apiKey. An empty apiKey disables
// the check.
func NewCollector(apiKey string) *Collector {
	return &Collector{apiKey: apiKey, latest: make(map[string]Received)}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (c *Collector) ReportPeers(ctx context.Context, payload *structpb.Struct) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if c.apiKey != "" && subtle.ConstantTimeCompare([]byte(first(md, MetadataAPIKey)), []byte(c.apiKey)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
	clusterID := first(md, MetadataClusterID)
	if clusterID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing cluster id")
	}
	protocol := payload.GetFields()["protocol"].GetStringValue()

	c.mu.Lock()
	c.latest[clusterID+"/"+protocol] = Received{ClusterID: clusterID, Payload: payload, ReceivedAt: time.Now()}
	c.mu.Unlock()

	slog.Debug("Peer report received", "cluster_id", clusterID, "protocol", protocol)
	return &emptypb.Empty{}, nil
}

// Latest returns the most recent report of one cluster and protocol.
func (c *Collector) Latest(clusterID, protocol string) (Received, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.latest[clusterID+"/"+protocol]
	return r, ok
}

// Server hosts a Collector on a TCP port.
type Server struct {
	grpcServer *grpc.Server
	port       int
}

func NewServer(port int, collector *Collector, creds credentials.TransportCredentials) *Server {
	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	gs := grpc.NewServer(opts...)
	RegisterStatusCollectorServer(gs, collector)
	return &Server{grpcServer: gs, port: port}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	slog.Info("Starting collector gRPC server", "port", s.port)
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping collector gRPC server")
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("Collector gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("Collector gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
	return nil
}
