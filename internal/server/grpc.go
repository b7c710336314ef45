package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/toska-mesh/hitcounter/internal/types"
)

// HealthService answers grpc.health.v1.Health/Check by computing the
// composite report on every call. The empty service name and the configured
// service ID both refer to this process.
type HealthService struct {
	healthpb.UnimplementedHealthServer
	server *Server
}

// NewHealthService creates the gRPC health surface for s.
func NewHealthService(s *Server) *HealthService {
	return &HealthService{server: s}
}

func (h *HealthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != h.server.config.ServiceID {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}

	report := h.server.Health(ctx)
	if report.Status == types.HealthHealthy {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}

// NewGRPCServer builds a gRPC server with the health service and reflection registered.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	g := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(g, NewHealthService(s))
	reflection.Register(g)
	return g
}
