package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/md-rashed-zaman/missionwindow/libs/grpcx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthFollowsServingState(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(slog.New(slog.DiscardHandler))
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	check := grpcx.ReadyCheck(lis.Addr().String(), ServiceName)
	require.NoError(t, check(context.Background()))

	s.SetServing(false)
	assert.Error(t, check(context.Background()))
	s.SetServing(true)
	assert.NoError(t, check(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
