// Package health exposes the engine's liveness over the standard gRPC health
// protocol so orchestrators can probe it without the HTTP API.
package health

import (
	"net"

	"trigger-engine/internal/market"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name probes use for the price feed.
const Service = "trigger-engine.feed"

// Server reports SERVING while the price feed is connected.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func NewServer() *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	// The process is up; the feed stays NOT_SERVING until it connects.
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetFeedState maps a supervisor state onto the feed service status.
func (s *Server) SetFeedState(st market.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == market.StateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
	log.Debug().Str("feed", string(st)).Str("status", status.String()).Msg("health: feed status updated")
}

// Serve blocks accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
