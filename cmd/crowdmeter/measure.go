package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emmett/crowdmeter/internal/app"
	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/emmett/crowdmeter/internal/client"
	"github.com/emmett/crowdmeter/internal/output"
)

var (
	bandID       string
	deviceName   string
	outputFormat string
	outputFile   string
	hotkeyStr    string
	duration     float64
	countdown    int
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Measure crowd noise for one band interactively",
	Long: `Opens the preferred microphone and shows a live level meter.

Keys: [Enter] start the countdown, [s] submit the score, [a] measure again,
[d <id>] switch input device, [l] list devices, [r] retry after an error,
[q] quit.`,
	RunE: runMeasure,
}

func init() {
	f := measureCmd.Flags()
	f.StringVarP(&bandID, "band", "b", "", "band id the measurement is submitted for")
	f.StringVar(&deviceName, "device", "", "input device id or label (see 'crowdmeter devices')")
	f.StringVar(&outputFormat, "format", "console", "result output: console, json, text")
	f.StringVarP(&outputFile, "output", "o", "", "write the result to a file (default: stdout)")
	f.StringVar(&hotkeyStr, "hotkey", "", "global hotkey that starts the countdown, e.g. ctrl+shift+r")
	f.Float64Var(&duration, "duration", 0, "recording window in seconds (overrides config)")
	f.IntVar(&countdown, "countdown", -1, "countdown seconds before recording (overrides config)")
	measureCmd.MarkFlagRequired("band")
}

// applyMeasureFlags lets explicitly set flags win over config values, and
// config values fill flags that were left alone
func applyMeasureFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	if flags.Changed("device") {
		cfg.Audio.Device = deviceName
	}
	if flags.Changed("hotkey") {
		cfg.Hotkey.Start = hotkeyStr
	}
	if flags.Changed("duration") && duration > 0 {
		cfg.Recording.DurationSeconds = duration
	}
	if flags.Changed("countdown") && countdown >= 0 {
		cfg.Recording.CountdownSeconds = countdown
	}
}

func runMeasure(cmd *cobra.Command, args []string) error {
	applyMeasureFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := audio.NewMalgoBackend(logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.Audio.Device != "" {
		dm := app.NewDeviceManager(audio.NewCatalog(backend, logger), os.Stderr)
		if _, err := dm.SelectDevice(ctx, cfg.Audio.Device); err != nil {
			return err
		}
	}

	submitter := client.New(cfg.Submit.BaseURL, cfg.Submit.Timeout, logger)
	bandName := lookupBand(ctx, submitter)

	// Status goes to stderr when the result itself goes to stdout
	var statusOut io.Writer = os.Stdout
	var formatter output.Formatter
	if outputFormat != "console" {
		w := io.Writer(os.Stdout)
		if outputFile != "" {
			file, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer file.Close()
			w = file
		} else {
			statusOut = os.Stderr
		}

		formatter, err = output.NewFormatter(outputFormat, w)
		if err != nil {
			return err
		}
		defer formatter.Close()
	}

	runner := app.NewRunner(app.MeterOptions{
		Config:    cfg,
		Backend:   backend,
		BandID:    bandID,
		Submitter: submitter,
		Logger:    logger,
	})

	measurer := app.NewMeasurer(app.MeasureConfig{
		Runner:    runner,
		Console:   output.NewConsoleOutput(output.ConsoleConfig{Writer: statusOut}),
		Formatter: formatter,
		BandName:  bandName,
		Hotkey:    cfg.Hotkey.Start,
		In:        os.Stdin,
		Logger:    logger,
	})

	return measurer.Run(ctx)
}

// lookupBand resolves the band's display name; the measurement still
// works without it
func lookupBand(ctx context.Context, c *client.Client) string {
	if cfg.Submit.EventID == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	band, err := c.Band(ctx, cfg.Submit.EventID, bandID)
	if err != nil {
		if errors.Is(err, client.ErrBandNotFound) {
			logger.Warn().Str("band", bandID).Str("event", cfg.Submit.EventID).Msg("Band is not part of this event")
		} else {
			logger.Warn().Err(err).Msg("Band lookup failed")
		}
		return ""
	}
	return band.Name
}
