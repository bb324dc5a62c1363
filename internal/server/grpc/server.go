package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/emmett/crowdmeter/internal/meter"
)

// Server wraps the gRPC server and services
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	log        zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	Logger zerolog.Logger
}

// NewServer creates a gRPC server controlling runner. The health service
// reports SERVING for the meter while a capture session is live.
func NewServer(cfg Config, runner *meter.Runner) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(cfg.Logger))),
		health:     health.NewServer(),
		addr:       net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		log:        cfg.Logger,
	}

	RegisterMeterServer(s.grpcServer, NewMeterService(runner))
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	s.setHealth(runner.State())
	runner.OnChange(s.setHealth)

	return s
}

func (s *Server) setHealth(st meter.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Phase.OwnsCapture() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("gRPC call")
		return resp, err
	}
}
