package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emmett/crowdmeter/internal/app"
	"github.com/emmett/crowdmeter/internal/audio"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meter behind a gRPC remote control",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := audio.NewMalgoBackend(logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		runner := app.NewRunner(app.MeterOptions{
			Config:  cfg,
			Backend: backend,
			BandID:  bandID,
			Logger:  logger,
		})

		return app.NewServerHandler(runner, cfg.Server.Host, cfg.Server.Port, logger).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVarP(&bandID, "band", "b", "", "band id measurements are submitted for")
}
