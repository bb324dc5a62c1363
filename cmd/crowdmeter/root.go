package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/emmett/crowdmeter/internal/config"
	"github.com/emmett/crowdmeter/internal/logging"
)

var (
	cfg      *config.Config
	cfgFile  string
	logLevel string
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crowdmeter",
	Short: "Crowd noise meter for battle-of-the-bands voting",
	Long: `crowdmeter listens to the room through a microphone, records a fixed
window of crowd noise after a countdown, turns its energy into a 1-10 crowd
score and submits it for the band that just played.

Run 'crowdmeter measure --band <id>' at the venue, or expose the meter to
other tools with 'serve' (gRPC) or 'mcp' (Model Context Protocol).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadWithFallback(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		logger = logging.New(cfg.Log.Level, os.Stderr)
		return nil
	},
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.crowdmeterrc or /etc/crowdmeter/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
