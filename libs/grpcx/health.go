package grpcx

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewHealthServer returns a health server with every named service serving.
// The empty name stands for the whole server.
func NewHealthServer(services ...string) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, s := range services {
		hs.SetServingStatus(s, healthpb.HealthCheckResponse_SERVING)
	}
	return hs
}

// RegisterHealth attaches hs to srv.
func RegisterHealth(srv *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(srv, hs)
}

// ReadyCheck checks addr with grpc.health.v1 and fails unless service reports
// SERVING. The client is built once and reconnects on its own between checks;
// WaitForReady lets a check ride out a reconnect within its deadline.
func ReadyCheck(addr, service string) func(context.Context) error {
	conn, connErr := NewClient(addr, nil)
	return func(ctx context.Context) error {
		if connErr != nil {
			return connErr
		}
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service}, grpc.WaitForReady(true))
		if err != nil {
			return fmt.Errorf("%s health check: %w", addr, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s reports %s", addr, resp.GetStatus())
		}
		return nil
	}
}
