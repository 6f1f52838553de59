package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer_ReportsServingStatus(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Start() }()
	require.Eventually(t, func() bool { return hs.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	cc, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer cc.Close()
	client := healthpb.NewHealthClient(cc)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	hs.SetServing("", true)
	hs.SetServing("matchhub.websocket", true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("matchhub.websocket"))
	hs.SetServing("matchhub.websocket", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("matchhub.websocket"))

	hs.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("health server did not stop")
	}
}

func TestHealthServer_StartFailsOnBadAddr(t *testing.T) {
	hs := NewHealthServer("256.0.0.1:bad", zaptest.NewLogger(t))
	assert.Error(t, hs.Start())
}
