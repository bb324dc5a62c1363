package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/emmett/crowdmeter/internal/meter"
)

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        zerolog.Logger
}

// Server exposes a meter.Runner as MCP tools
type Server struct {
	config    Config
	mcpServer *sdk.Server
	runner    *meter.Runner
	log       zerolog.Logger
}

func NewServer(cfg Config, runner *meter.Runner) *Server {
	s := &Server{
		config: cfg,
		runner: runner,
		log:    cfg.Logger,
	}

	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)

	s.registerTools()

	return s
}

// Run serves MCP over stdio until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Str("name", s.config.ServerName).Msg("MCP server running on stdio")
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_devices",
		Description: "List the ranked microphone inputs and the selected one",
	}, s.handleListDevices)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "meter_state",
		Description: "Report the meter phase, live level and last result",
	}, s.handleMeterState)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "start_measurement",
		Description: "Open the microphone if needed and start the countdown; optionally wait for the score",
	}, s.handleStartMeasurement)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "submit_measurement",
		Description: "Submit the finished measurement to the event backend",
	}, s.handleSubmitMeasurement)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "abort_measurement",
		Description: "Stop capture and discard the current measurement",
	}, s.handleAbortMeasurement)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "switch_device",
		Description: "Select another microphone input",
	}, s.handleSwitchDevice)
}
