package meter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/rs/zerolog"
)

// ErrRunnerStopped is returned by commands issued after Run has returned
var ErrRunnerStopped = errors.New("meter runner stopped")

type command struct {
	fn   func(ctx context.Context, m *Machine) error
	done chan error
}

// Runner hosts a Machine on a single goroutine: it drives the display
// tick and serializes every external event through a command channel.
// State is published after each step for concurrent readers.
type Runner struct {
	machine  *Machine
	interval time.Duration
	log      zerolog.Logger

	cmds    chan command
	stopped chan struct{}
	once    sync.Once

	mu        sync.RWMutex
	state     State
	devices   []audio.InputDevice
	listeners []func(State)
}

// NewRunner creates a runner ticking every interval
func NewRunner(machine *Machine, interval time.Duration, log zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Runner{
		machine:  machine,
		interval: interval,
		log:      log,
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
		state:    machine.Snapshot(),
	}
}

// OnChange registers fn to receive every published state. fn runs on the
// runner goroutine and must not call back into the runner.
func (r *Runner) OnChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Run drives the machine until ctx is cancelled. Cancellation aborts the
// machine so the capture stream is released before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.stopped) })

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			r.machine.Abort()
			r.publish()
			return ctx.Err()

		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := r.machine.Advance(ctx, dt); err != nil {
				r.log.Debug().Err(err).Msg("Tick failed")
			}
			r.publish()

		case cmd := <-r.cmds:
			err := cmd.fn(ctx, r.machine)
			r.publish()
			cmd.done <- err
		}
	}
}

// Do runs fn on the runner goroutine and waits for its result
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context, m *Machine) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}

	select {
	case r.cmds <- cmd:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the last published state
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Devices returns the ranked devices from the last enumeration
func (r *Runner) Devices() []audio.InputDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]audio.InputDevice, len(r.devices))
	copy(out, r.devices)
	return out
}

// Init enumerates devices and starts monitoring
func (r *Runner) Init(ctx context.Context) error {
	return r.Do(ctx, func(ctx context.Context, m *Machine) error { return m.Init(ctx) })
}

// Start begins the countdown
func (r *Runner) Start(ctx context.Context) error {
	return r.Do(ctx, func(ctx context.Context, m *Machine) error { return m.Start(ctx) })
}

// Again discards the result and resumes monitoring
func (r *Runner) Again(ctx context.Context) error {
	return r.Do(ctx, func(ctx context.Context, m *Machine) error { return m.Again(ctx) })
}

// SwitchDevice selects another input device
func (r *Runner) SwitchDevice(ctx context.Context, deviceID string) error {
	return r.Do(ctx, func(ctx context.Context, m *Machine) error { return m.SwitchDevice(ctx, deviceID) })
}

// Abort releases capture and returns to Idle
func (r *Runner) Abort(ctx context.Context) error {
	return r.Do(ctx, func(_ context.Context, m *Machine) error {
		m.Abort()
		return nil
	})
}

// Measurement returns the finished measurement, if any
func (r *Runner) Measurement(ctx context.Context) (Measurement, bool, error) {
	var (
		out Measurement
		ok  bool
	)
	err := r.Do(ctx, func(_ context.Context, m *Machine) error {
		out, ok = m.Measurement()
		return nil
	})
	return out, ok, err
}

// Submit persists the current measurement. The network call runs on the
// caller's goroutine so ticking continues while it is in flight; the
// machine sits in Submitting until the outcome is posted back.
func (r *Runner) Submit(ctx context.Context) error {
	var measurement Measurement
	err := r.Do(ctx, func(_ context.Context, m *Machine) error {
		var err error
		measurement, err = m.BeginSubmit()
		return err
	})
	if err != nil {
		return err
	}

	saveErr := r.machine.save(ctx, measurement)

	// Post the outcome even if ctx expired during the save
	complete := func(_ context.Context, m *Machine) error {
		m.CompleteSubmit(saveErr)
		return nil
	}
	if err := r.Do(context.Background(), complete); err != nil {
		return err
	}
	return saveErr
}

func (r *Runner) publish() {
	state := r.machine.Snapshot()

	r.mu.Lock()
	changed := state != r.state
	r.state = state
	if len(r.machine.devices) != len(r.devices) || changed {
		r.devices = r.machine.Devices()
	}
	listeners := r.listeners
	r.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(state)
	}
}
