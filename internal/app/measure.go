package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emmett/crowdmeter/internal/input"
	"github.com/emmett/crowdmeter/internal/meter"
	"github.com/emmett/crowdmeter/internal/output"
)

// MeasureConfig holds configuration for an interactive measurement
type MeasureConfig struct {
	Runner    *meter.Runner
	Console   *output.ConsoleOutput
	Formatter output.Formatter // Optional; receives phase events and the final result
	BandName  string
	Hotkey    string // Optional global start hotkey
	In        io.Reader
	Logger    zerolog.Logger
}

// Measurer drives one interactive measurement from terminal commands
type Measurer struct {
	config  MeasureConfig
	log     zerolog.Logger
	written bool

	// Guards the formatter, which is written from the runner goroutine too
	mu sync.Mutex
}

// NewMeasurer creates a new Measurer
func NewMeasurer(config MeasureConfig) *Measurer {
	return &Measurer{config: config, log: config.Logger}
}

// Run hosts the meter until the user quits, input ends or ctx is done.
// The capture stream is released before Run returns.
func (m *Measurer) Run(ctx context.Context) error {
	r := m.config.Runner
	console := m.config.Console

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.OnChange(console.Render)
	if m.config.Formatter != nil {
		last := r.State().Phase
		r.OnChange(func(st meter.State) {
			if st.Phase == last {
				return
			}
			last = st.Phase
			m.writeEvent(st)
		})
	}
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-runDone
	}()

	if m.config.BandName != "" {
		console.Info(fmt.Sprintf("Measuring crowd noise for %s", m.config.BandName))
	}

	if err := r.Init(ctx); err != nil {
		console.Error(fmt.Sprintf("Microphone unavailable: %v ([r] retry, [q] quit)", err))
	}

	if m.config.Hotkey != "" {
		hk := input.NewHotkeyManager(func() {
			if err := r.Start(ctx); err != nil {
				m.log.Debug().Err(err).Msg("Hotkey start ignored")
			}
		})
		if err := hk.Start(ctx, m.config.Hotkey); err != nil {
			m.log.Warn().Err(err).Str("hotkey", m.config.Hotkey).Msg("Hotkey unavailable, use Enter to start")
		} else {
			defer hk.Stop()
			console.Info(fmt.Sprintf("Press %s or Enter to start", m.config.Hotkey))
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.config.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.finish(r.State())
			return nil

		case line, ok := <-lines:
			if !ok {
				m.finish(r.State())
				return nil
			}
			quit, err := m.handle(ctx, line)
			if err != nil {
				console.Error(err.Error())
			}
			if quit {
				m.finish(r.State())
				return nil
			}
		}
	}
}

func (m *Measurer) handle(ctx context.Context, line string) (bool, error) {
	r := m.config.Runner
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

	switch strings.ToLower(cmd) {
	case "", "start":
		switch r.State().Phase {
		case meter.PhaseIdle, meter.PhaseError, meter.PhasePermissionDenied:
			return false, r.Init(ctx)
		}
		return false, r.Start(ctx)

	case "r", "retry":
		return false, r.Init(ctx)

	case "s", "submit":
		if err := r.Submit(ctx); err != nil {
			return false, fmt.Errorf("submit failed: %w", err)
		}
		return false, m.writeResult(ctx, true)

	case "a", "again":
		m.written = false
		return false, r.Again(ctx)

	case "d", "device":
		if arg == "" {
			return false, errors.New("usage: d <device id>")
		}
		return false, r.SwitchDevice(ctx, strings.TrimSpace(arg))

	case "l", "list":
		for _, d := range r.Devices() {
			m.config.Console.Info(d.String())
		}
		return false, nil

	case "q", "quit":
		return true, nil
	}

	return false, fmt.Errorf("unknown command %q ([Enter] start, s, a, d <id>, l, q)", cmd)
}

// finish writes a result that was measured but never submitted
func (m *Measurer) finish(st meter.State) {
	if st.Phase != meter.PhaseResults || m.written {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.writeResult(ctx, false); err != nil {
		m.log.Warn().Err(err).Msg("Failed to write result")
	}
}

func (m *Measurer) writeResult(ctx context.Context, submitted bool) error {
	f := m.config.Formatter
	if f == nil {
		return nil
	}

	measurement, ok, err := m.config.Runner.Measurement(ctx)
	if err != nil || !ok {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = true
	return f.WriteResult(output.Result{
		Measurement: measurement,
		BandName:    m.config.BandName,
		Submitted:   submitted,
		Timestamp:   time.Now(),
	})
}

func (m *Measurer) writeEvent(st meter.State) {
	msg := st.Phase.String()
	switch st.Phase {
	case meter.PhaseResults:
		msg = fmt.Sprintf("%s score=%d energy=%.4f", msg, st.Score, st.Energy)
		if st.SubmitError != "" {
			msg += " submit_error=" + st.SubmitError
		}
	case meter.PhaseMonitoring:
		if st.DeviceID != "" {
			msg += " device=" + st.DeviceID
		}
	case meter.PhaseError, meter.PhasePermissionDenied:
		msg += ": " + st.Reason
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.config.Formatter.WriteEvent("phase", msg); err != nil {
		m.log.Warn().Err(err).Msg("Failed to write event")
	}
}
