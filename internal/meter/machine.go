package meter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/rs/zerolog"
)

// Slack for comparing accumulated float seconds against whole boundaries
const tickEpsilon = 1e-6

// ErrInvalidTransition is returned when an event does not apply to the
// current phase
var ErrInvalidTransition = errors.New("invalid transition")

// Submitter persists a finished measurement
type Submitter interface {
	Save(ctx context.Context, m Measurement) error
}

// Config wires a Machine to its collaborators
type Config struct {
	Catalog   *audio.Catalog
	Session   *audio.Session
	Submitter Submitter
	Scorer    Scorer

	BandID           string
	DeviceID         string // Explicit device override, empty = best ranked
	Duration         time.Duration
	CountdownSeconds int

	Logger zerolog.Logger
}

// Machine is the recording state machine. It is single-threaded: every
// method must be called from the same goroutine (see Runner).
type Machine struct {
	catalog   *audio.Catalog
	session   *audio.Session
	submitter Submitter
	scorer    Scorer
	bandID    string
	duration  float64
	countdown int
	log       zerolog.Logger

	phase        Phase
	deviceID     string
	devices      []audio.InputDevice
	cs           *audio.CaptureSession
	level        float64
	secondsLeft  int
	countdownAcc float64
	elapsed      float64
	energy       float64
	peak         float64
	score        int
	reason       string
	submitErr    string
	measurement  *Measurement
}

// NewMachine creates a machine in the Idle phase
func NewMachine(cfg Config) *Machine {
	return &Machine{
		catalog:   cfg.Catalog,
		session:   cfg.Session,
		submitter: cfg.Submitter,
		scorer:    cfg.Scorer,
		bandID:    cfg.BandID,
		duration:  cfg.Duration.Seconds(),
		countdown: cfg.CountdownSeconds,
		deviceID:  cfg.DeviceID,
		log:       cfg.Logger,
		phase:     PhaseIdle,
	}
}

// Snapshot returns the current state
func (m *Machine) Snapshot() State {
	return State{
		Phase:       m.phase,
		DeviceID:    m.deviceID,
		Level:       m.level,
		SecondsLeft: m.secondsLeft,
		Elapsed:     m.elapsed,
		Energy:      m.energy,
		Peak:        m.peak,
		Score:       m.score,
		Reason:      m.reason,
		SubmitError: m.submitErr,
	}
}

// Devices returns the ranked devices from the last enumeration
func (m *Machine) Devices() []audio.InputDevice {
	out := make([]audio.InputDevice, len(m.devices))
	copy(out, m.devices)
	return out
}

// Measurement returns the finished measurement while one exists
func (m *Machine) Measurement() (Measurement, bool) {
	if m.measurement == nil {
		return Measurement{}, false
	}
	return *m.measurement, true
}

// Init enumerates devices, acquires the preferred one and starts
// monitoring. It is also the explicit retry from PermissionDenied and Error.
func (m *Machine) Init(ctx context.Context) error {
	switch m.phase {
	case PhaseIdle, PhasePermissionDenied, PhaseError:
	default:
		return m.invalid("init")
	}

	m.resetTake()
	m.reason = ""
	m.phase = PhaseCheckingPermission

	devices, err := m.catalog.Enumerate(ctx)
	if err != nil {
		m.fail(err)
		return err
	}
	m.devices = audio.Rank(devices)

	if d, ok := audio.Preferred(m.devices, m.deviceID); ok {
		m.deviceID = d.ID
	} else if m.deviceID != "" {
		m.log.Warn().Str("device", m.deviceID).Msg("Configured device not found, using platform default")
		m.deviceID = ""
	}

	if err := m.acquire(ctx, m.deviceID); err != nil {
		return err
	}

	m.phase = PhaseMonitoring
	m.log.Info().Str("device", m.deviceID).Int("devices", len(m.devices)).Msg("Monitoring input")
	return nil
}

// Start begins the countdown from Monitoring, replacing the capture
// session first if it went stale.
func (m *Machine) Start(ctx context.Context) error {
	if m.phase != PhaseMonitoring {
		return m.invalid("start")
	}

	if err := m.ensureCapture(ctx); err != nil {
		return err
	}

	m.phase = PhaseCountdown
	m.secondsLeft = m.countdown
	m.countdownAcc = 0
	if m.secondsLeft <= 0 {
		m.beginRecording()
	}
	return nil
}

// Advance moves the machine forward by one tick of length dt
func (m *Machine) Advance(ctx context.Context, dt time.Duration) error {
	secs := dt.Seconds()
	if secs < 0 {
		secs = 0
	}

	switch m.phase {
	case PhaseMonitoring:
		return m.monitor(ctx)

	case PhaseCountdown:
		if err := m.monitor(ctx); err != nil {
			return err
		}
		m.countdownAcc += secs
		for m.phase == PhaseCountdown && m.countdownAcc+tickEpsilon >= 1 {
			m.countdownAcc--
			m.secondsLeft--
			if m.secondsLeft <= 0 {
				m.beginRecording()
			}
		}
		return nil

	case PhaseRecording:
		return m.record(secs)
	}

	return nil
}

// BeginSubmit moves Results to Submitting and returns the measurement to
// persist. The caller reports the outcome through CompleteSubmit.
func (m *Machine) BeginSubmit() (Measurement, error) {
	if m.phase != PhaseResults || m.measurement == nil {
		return Measurement{}, m.invalid("submit")
	}
	m.phase = PhaseSubmitting
	m.submitErr = ""
	return *m.measurement, nil
}

// CompleteSubmit resolves Submitting: Submitted on success, back to
// Results with the measurement intact on failure.
func (m *Machine) CompleteSubmit(err error) {
	if m.phase != PhaseSubmitting {
		return
	}

	if err != nil {
		m.log.Warn().Err(err).Msg("Submission failed, measurement kept for retry")
		m.submitErr = err.Error()
		m.phase = PhaseResults
		return
	}

	m.log.Info().Str("band", m.bandID).Int("score", m.score).Msg("Measurement submitted")
	m.phase = PhaseSubmitted
}

// Submit persists the measurement synchronously
func (m *Machine) Submit(ctx context.Context) error {
	measurement, err := m.BeginSubmit()
	if err != nil {
		return err
	}
	err = m.save(ctx, measurement)
	m.CompleteSubmit(err)
	return err
}

func (m *Machine) save(ctx context.Context, measurement Measurement) error {
	if m.submitter == nil {
		return errors.New("no submitter configured")
	}
	return m.submitter.Save(ctx, measurement)
}

// Again discards the result and returns to Monitoring on the same device
func (m *Machine) Again(ctx context.Context) error {
	if m.phase != PhaseResults {
		return m.invalid("record again")
	}

	m.resetTake()
	if err := m.acquire(ctx, m.deviceID); err != nil {
		return err
	}
	m.phase = PhaseMonitoring
	return nil
}

// SwitchDevice selects another input by id or label. Once devices have
// been enumerated the name must match one of them. Phases holding a
// capture session release it and acquire the new device; the phase itself
// is unchanged.
func (m *Machine) SwitchDevice(ctx context.Context, deviceID string) error {
	if deviceID != "" && len(m.devices) > 0 {
		d, ok := audio.Find(m.devices, deviceID)
		if !ok {
			return fmt.Errorf("%w: %q is not an enumerated input", audio.ErrDeviceUnavailable, deviceID)
		}
		deviceID = d.ID
	}

	m.deviceID = deviceID
	m.level = 0

	if !m.phase.OwnsCapture() {
		return nil
	}

	m.session.Release(m.cs)
	m.cs = nil
	if err := m.acquire(ctx, deviceID); err != nil {
		return err
	}
	m.log.Info().Str("device", m.deviceID).Str("phase", m.phase.String()).Msg("Switched input device")
	return nil
}

// Abort releases the capture session and discards all state. An aborted
// recording produces no measurement.
func (m *Machine) Abort() {
	m.session.Release(m.cs)
	m.session.ReleaseCurrent()
	m.cs = nil

	if m.phase != PhaseIdle {
		m.log.Info().Str("phase", m.phase.String()).Msg("Measurement aborted")
	}
	m.resetTake()
	m.reason = ""
	m.phase = PhaseIdle
}

func (m *Machine) monitor(ctx context.Context) error {
	if err := m.ensureCapture(ctx); err != nil {
		return err
	}

	rms, err := m.readBlock()
	if err != nil {
		return err
	}
	m.level = rms
	return nil
}

func (m *Machine) record(secs float64) error {
	if !m.session.IsHealthy(m.cs) {
		// A take with a gap in it would under-report energy
		m.session.Release(m.cs)
		m.cs = nil
		m.fail(fmt.Errorf("%w: input lost during recording", audio.ErrStaleSession))
		return audio.ErrStaleSession
	}

	rms, err := m.readBlock()
	if err != nil {
		return err
	}

	m.level = rms
	m.energy += rms * rms * secs
	if rms > m.peak {
		m.peak = rms
	}
	m.elapsed += secs

	if m.elapsed+tickEpsilon >= m.duration {
		m.finish()
	}
	return nil
}

func (m *Machine) readBlock() (float64, error) {
	block, err := m.session.SampleBlock(m.cs)
	if err != nil {
		m.fail(err)
		return 0, err
	}

	rms, err := audio.RMS(block)
	if err != nil {
		m.log.Error().Err(err).Msg("Capture delivered an empty block")
		m.session.Release(m.cs)
		m.cs = nil
		m.fail(err)
		return 0, err
	}
	return rms, nil
}

func (m *Machine) beginRecording() {
	m.phase = PhaseRecording
	m.secondsLeft = 0
	m.energy = 0
	m.peak = 0
	m.elapsed = 0
	m.log.Info().Float64("duration", m.duration).Msg("Recording started")
}

func (m *Machine) finish() {
	m.session.Release(m.cs)
	m.cs = nil

	m.score = m.scorer.Compute(m.energy)
	m.measurement = &Measurement{
		BandID:            m.bandID,
		EnergyLevel:       m.energy,
		PeakVolume:        m.peak,
		RecordingDuration: m.elapsed,
		CrowdScore:        m.score,
	}
	m.phase = PhaseResults
	m.level = 0

	m.log.Info().
		Float64("energy", m.energy).
		Float64("peak", m.peak).
		Int("score", m.score).
		Msg("Recording finished")
}

// ensureCapture keeps m.cs healthy, re-acquiring transparently
func (m *Machine) ensureCapture(ctx context.Context) error {
	cs, replaced, err := m.session.Ensure(ctx, m.cs)
	if err != nil {
		m.cs = nil
		m.failCapture(err)
		return err
	}
	m.cs = cs
	if replaced {
		m.deviceID = cs.DeviceID()
		m.level = 0
	}
	return nil
}

func (m *Machine) acquire(ctx context.Context, deviceID string) error {
	cs, err := m.session.Acquire(ctx, deviceID)
	if err != nil {
		m.session.ReleaseCurrent()
		m.cs = nil
		m.failCapture(err)
		return err
	}
	m.cs = cs
	m.deviceID = cs.DeviceID()
	m.level = 0
	return nil
}

func (m *Machine) failCapture(err error) {
	if errors.Is(err, audio.ErrPermissionDenied) {
		m.log.Warn().Err(err).Msg("Microphone access denied")
		m.resetTake()
		m.reason = err.Error()
		m.phase = PhasePermissionDenied
		return
	}
	m.fail(err)
}

func (m *Machine) fail(err error) {
	m.session.Release(m.cs)
	m.cs = nil
	m.log.Error().Err(err).Str("phase", m.phase.String()).Msg("Measurement error")
	m.resetTake()
	m.reason = err.Error()
	m.phase = PhaseError
}

func (m *Machine) resetTake() {
	m.level = 0
	m.secondsLeft = 0
	m.countdownAcc = 0
	m.elapsed = 0
	m.energy = 0
	m.peak = 0
	m.score = 0
	m.submitErr = ""
	m.measurement = nil
}

func (m *Machine) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, m.phase)
}
