package app

import (
	"github.com/rs/zerolog"

	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/emmett/crowdmeter/internal/client"
	"github.com/emmett/crowdmeter/internal/config"
	"github.com/emmett/crowdmeter/internal/meter"
)

// MeterOptions selects what a meter runner is built from
type MeterOptions struct {
	Config  *config.Config
	Backend audio.Backend
	BandID  string

	// Submitter overrides the HTTP client built from Config.Submit
	Submitter meter.Submitter

	Logger zerolog.Logger
}

// NewRunner assembles catalog, capture session, scorer and submission
// client into a runner ready to Run.
func NewRunner(opts MeterOptions) *meter.Runner {
	cfg := opts.Config
	log := opts.Logger

	captureCfg := audio.CaptureConfig{
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.FrameSize,
	}

	submitter := opts.Submitter
	if submitter == nil {
		submitter = client.New(cfg.Submit.BaseURL, cfg.Submit.Timeout, log.With().Str("component", "client").Logger())
	}

	machine := meter.NewMachine(meter.Config{
		Catalog:          audio.NewCatalog(opts.Backend, log.With().Str("component", "catalog").Logger()),
		Session:          audio.NewSession(opts.Backend, captureCfg, log.With().Str("component", "capture").Logger()),
		Submitter:        submitter,
		Scorer:           meter.Scorer{Scale: cfg.Recording.ScoreScale},
		BandID:           opts.BandID,
		DeviceID:         cfg.Audio.Device,
		Duration:         cfg.RecordingDuration(),
		CountdownSeconds: cfg.Recording.CountdownSeconds,
		Logger:           log.With().Str("component", "meter").Logger(),
	})

	return meter.NewRunner(machine, cfg.TickInterval(), log)
}
