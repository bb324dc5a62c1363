package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/emmett/crowdmeter/internal/meter"
	grpcserver "github.com/emmett/crowdmeter/internal/server/grpc"
)

// ServerHandler runs the meter behind the gRPC remote control
type ServerHandler struct {
	runner *meter.Runner
	config grpcserver.Config
	log    zerolog.Logger
}

// NewServerHandler creates a new gRPC server handler
func NewServerHandler(runner *meter.Runner, host string, port int, log zerolog.Logger) *ServerHandler {
	return &ServerHandler{
		runner: runner,
		config: grpcserver.Config{Host: host, Port: port, Logger: log},
		log:    log,
	}
}

// Run serves until ctx is done. Capture is opened on the first Start
// call, so an idle server holds no microphone.
func (h *ServerHandler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- h.runner.Run(ctx) }()

	server := grpcserver.NewServer(h.config, h.runner)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	var err error
	select {
	case <-ctx.Done():
		h.log.Info().Msg("Shutting down gRPC server")
		server.Stop()
		<-serveErr
	case err = <-serveErr:
	}

	cancel()
	<-runDone

	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
