package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emmett/crowdmeter/internal/app"
	"github.com/emmett/crowdmeter/internal/audio"
)

var (
	selectDevice string
	saveDevice   string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphone inputs in preference order",
	Long: `List microphone inputs in preference order. With --select the named
device (ID or label) is resolved and, with --save, written to the given
config file as audio.device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.NewMalgoBackend(logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		dm := app.NewDeviceManager(audio.NewCatalog(backend, logger), os.Stdout)

		if !cmd.Flags().Changed("select") {
			if err := dm.ListDevices(cmd.Context(), cfg.Audio.Device); err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			return nil
		}

		d, err := dm.SelectDevice(cmd.Context(), selectDevice)
		if err != nil {
			return err
		}
		fmt.Printf("Selected: %s (%s)\n", d.Label, d.ID)

		if saveDevice == "" {
			return nil
		}
		cfg.Audio.Device = d.ID
		if err := cfg.Save(saveDevice); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Saved to %s\n", saveDevice)
		return nil
	},
}

func init() {
	devicesCmd.Flags().StringVar(&selectDevice, "select", "", "resolve a device by ID or label (empty = best ranked)")
	devicesCmd.Flags().StringVar(&saveDevice, "save", "", "config file to write the selected device to")
}
