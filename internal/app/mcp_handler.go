package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/emmett/crowdmeter/internal/meter"
	"github.com/emmett/crowdmeter/internal/server/mcp"
)

// MCPHandler runs the meter behind an MCP stdio server
type MCPHandler struct {
	runner  *meter.Runner
	version string
	band    string
	notice  io.Writer
	log     zerolog.Logger
}

// NewMCPHandler creates a new MCP handler. Notices go to stderr since
// stdout carries the protocol.
func NewMCPHandler(runner *meter.Runner, version, band string, log zerolog.Logger) *MCPHandler {
	return &MCPHandler{
		runner:  runner,
		version: version,
		band:    band,
		notice:  os.Stderr,
		log:     log,
	}
}

// Run serves until ctx is done or the client disconnects
func (h *MCPHandler) Run(ctx context.Context) error {
	fmt.Fprintf(h.notice, "Starting MCP server (stdio transport), version %s\n", h.version)
	h.printClientConfig()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- h.runner.Run(ctx) }()

	server := mcp.NewServer(mcp.Config{
		ServerName:    "crowdmeter",
		ServerVersion: h.version,
		Logger:        h.log,
	}, h.runner)

	err := server.Run(ctx)
	cancel()
	<-runDone

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (h *MCPHandler) printClientConfig() {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "crowdmeter"
	}

	type serverConfig struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	clientConfig := map[string]map[string]serverConfig{
		"mcpServers": {
			"crowdmeter": {Command: execPath, Args: []string{"mcp", "--band", h.band}},
		},
	}

	configJSON, err := json.MarshalIndent(clientConfig, "", "  ")
	if err == nil {
		fmt.Fprintf(h.notice, "MCP client configuration:\n%s\n\n", configJSON)
	}
}
