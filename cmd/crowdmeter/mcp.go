package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emmett/crowdmeter/internal/app"
	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/emmett/crowdmeter/internal/logging"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the meter as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol; keep logs structured on stderr
		log := logging.NewJSON(cfg.Log.Level, os.Stderr)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := audio.NewMalgoBackend(log)
		if err != nil {
			return err
		}
		defer backend.Close()

		runner := app.NewRunner(app.MeterOptions{
			Config:  cfg,
			Backend: backend,
			BandID:  bandID,
			Logger:  log,
		})

		return app.NewMCPHandler(runner, Version, bandID, log).Run(ctx)
	},
}

func init() {
	mcpCmd.Flags().StringVarP(&bandID, "band", "b", "", "band id measurements are submitted for")
}
