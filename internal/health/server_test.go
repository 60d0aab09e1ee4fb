package health

import (
	"context"
	"net"
	"testing"

	"trigger-engine/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func newClient(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthTracksFeedState(t *testing.T) {
	s := NewServer()
	c := newClient(t, s)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))

	s.SetFeedState(market.StateConnected)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, Service))

	s.SetFeedState(market.StateBackingOff)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))

	s.SetFeedState(market.StateConnected)
	s.SetFeedState(market.StateFailed)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))
}

func TestHealthUnknownService(t *testing.T) {
	c := newClient(t, NewServer())

	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "other"})
	assert.Error(t, err)
}
