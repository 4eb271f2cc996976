package grpcx

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/missionwindow/libs/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestServerInterceptorAdoptsIncomingID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "from-peer"))
	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-peer", seen)
	assert.Equal(t, seen, httpx.RequestIDFromContext(ctx), "grpc and http share the context slot")
}

func TestServerInterceptorReplacesUnusableID(t *testing.T) {
	for _, incoming := range []string{"", "has space", strings.Repeat("x", 200)} {
		ctx := context.Background()
		if incoming != "" {
			ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(RequestIDMetadataKey, incoming))
		}
		var seen string
		_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
			seen = RequestIDFromContext(ctx)
			return nil, nil
		})
		require.NoError(t, err)
		assert.Len(t, seen, 32, "incoming %q", incoming)
	}
}

func TestClientInterceptorForwardsHTTPRequestID(t *testing.T) {
	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	err := UnaryClientRequestIDInterceptor()(ctx, "/svc/M", nil, nil, nil, func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, ok := metadata.FromOutgoingContext(ctx)
		require.True(t, ok)
		assert.Equal(t, []string{"req-42"}, md.Get(RequestIDMetadataKey))
		return nil
	})
	require.NoError(t, err)
}

func TestHealthReadyCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.ChainStreamInterceptor(StreamServerRequestIDInterceptor()))
	hs := NewHealthServer("missionwindow.v1.Missions")
	RegisterHealth(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	check := ReadyCheck(lis.Addr().String(), "missionwindow.v1.Missions")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, check(ctx))

	hs.SetServingStatus("missionwindow.v1.Missions", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Error(t, check(ctx))
}

func TestHealthReadyCheckUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = ReadyCheck(addr, "")(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
