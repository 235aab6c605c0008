package server

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/GriffinCanCode/talking-portrait/internal/realtime"
	"github.com/GriffinCanCode/talking-portrait/internal/resilience"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
)

// NewGRPCServer creates the gRPC server exposing the health service with
// trace propagation on every call.
func (s *Server) NewGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
	return srv
}

// setHealth reports NOT_SERVING after a failed conversation and SERVING otherwise.
func (s *Server) setHealth(state string) {
	st := healthpb.HealthCheckResponse_SERVING
	if state == realtime.StateError.String() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(HealthService, st)
}

// WatchBreaker reports the analysis service NOT_SERVING while b is open.
func (s *Server) WatchBreaker(b *resilience.Breaker) {
	s.setAnalysisHealth(b.State())
	b.WithHook(func(_, to resilience.State) { s.setAnalysisHealth(to) })
}

func (s *Server) setAnalysisHealth(state resilience.State) {
	st := healthpb.HealthCheckResponse_SERVING
	if state == resilience.Open {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(AnalysisHealthService, st)
}
