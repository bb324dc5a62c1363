package meter_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/emmett/crowdmeter/internal/audio/audiotest"
	"github.com/emmett/crowdmeter/internal/meter"
	"github.com/rs/zerolog"
)

const frameSize = 2048

type fakeSubmitter struct {
	mu    sync.Mutex
	saved []meter.Measurement
	err   error
}

func (f *fakeSubmitter) Save(ctx context.Context, m meter.Measurement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, m)
	return nil
}

func (f *fakeSubmitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type harness struct {
	machine   *meter.Machine
	backend   *audiotest.Backend
	session   *audio.Session
	submitter *fakeSubmitter
}

func newHarness(t *testing.T, countdown int, devices ...audio.InputDevice) *harness {
	t.Helper()
	return newHarnessFor(t, countdown, 7*time.Second, devices...)
}

func newHarnessFor(t *testing.T, countdown int, duration time.Duration, devices ...audio.InputDevice) *harness {
	t.Helper()

	log := zerolog.Nop()
	backend := audiotest.NewBackend(devices...)
	session := audio.NewSession(backend, audio.CaptureConfig{SampleRate: 44100, FrameSize: frameSize}, log)
	submitter := &fakeSubmitter{}

	m := meter.NewMachine(meter.Config{
		Catalog:          audio.NewCatalog(backend, log),
		Session:          session,
		Submitter:        submitter,
		Scorer:           meter.Scorer{Scale: 10},
		BandID:           "band-1",
		Duration:         duration,
		CountdownSeconds: countdown,
		Logger:           log,
	})

	return &harness{machine: m, backend: backend, session: session, submitter: submitter}
}

func input(id, label string) audio.InputDevice {
	return audio.InputDevice{ID: id, Label: label, Kind: audio.DeviceKindInput}
}

// record runs the countdown and then n display ticks of loud input
func (h *harness) record(t *testing.T, amplitude float64, n int) {
	t.Helper()
	ctx := context.Background()

	if err := h.machine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for h.machine.Snapshot().Phase == meter.PhaseCountdown {
		if err := h.machine.Advance(ctx, time.Second); err != nil {
			t.Fatalf("countdown tick failed: %v", err)
		}
	}
	wave := audiotest.SquareWave(amplitude, frameSize)
	for i := 0; i < n; i++ {
		h.backend.Feed(wave)
		if err := h.machine.Advance(ctx, time.Second/60); err != nil {
			t.Fatalf("recording tick %d failed: %v", i, err)
		}
	}
}

func TestFullMeasurement(t *testing.T) {
	h := newHarness(t, 3, input("mic", "Built-in Microphone"))
	ctx := context.Background()

	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got := h.machine.Snapshot().Phase; got != meter.PhaseMonitoring {
		t.Fatalf("expected monitoring, got %s", got)
	}

	if err := h.machine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for want := 2; want >= 1; want-- {
		h.machine.Advance(ctx, time.Second)
		st := h.machine.Snapshot()
		if st.Phase != meter.PhaseCountdown || st.SecondsLeft != want {
			t.Fatalf("expected countdown %d, got %s %d", want, st.Phase, st.SecondsLeft)
		}
	}
	h.machine.Advance(ctx, time.Second)
	if got := h.machine.Snapshot().Phase; got != meter.PhaseRecording {
		t.Fatalf("expected recording after 3 ticks, got %s", got)
	}

	wave := audiotest.SquareWave(0.3, frameSize)
	for i := 0; i < 420; i++ {
		h.backend.Feed(wave)
		if err := h.machine.Advance(ctx, time.Second/60); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseResults {
		t.Fatalf("expected results, got %s", st.Phase)
	}
	if math.Abs(st.Energy-0.63) > 0.01 {
		t.Errorf("expected energy ~0.63, got %f", st.Energy)
	}
	if math.Abs(st.Peak-0.3) > 0.005 {
		t.Errorf("expected peak ~0.3, got %f", st.Peak)
	}
	if st.Score != 6 {
		t.Errorf("expected score 6, got %d", st.Score)
	}
	if h.backend.LiveStreams() != 0 {
		t.Error("capture should be released once recording finishes")
	}

	measurement, ok := h.machine.Measurement()
	if !ok {
		t.Fatal("expected a measurement")
	}
	if measurement.BandID != "band-1" || measurement.CrowdScore != 6 {
		t.Errorf("unexpected measurement %+v", measurement)
	}
	if math.Abs(measurement.RecordingDuration-7) > 0.001 {
		t.Errorf("expected ~7s duration, got %f", measurement.RecordingDuration)
	}

	if err := h.machine.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := h.machine.Snapshot().Phase; got != meter.PhaseSubmitted {
		t.Errorf("expected submitted, got %s", got)
	}
	if h.submitter.count() != 1 {
		t.Errorf("expected 1 saved measurement, got %d", h.submitter.count())
	}
}

func TestEnergyIntegralUsesMeasuredDelta(t *testing.T) {
	tests := []struct {
		name      string
		amplitude float64
		duration  time.Duration
		ticks     []time.Duration
		energy    float64
		score     int
	}{
		{"steady 60Hz", 0.5, 10 * time.Second, []time.Duration{time.Second / 60}, 2.5, 10},
		{"alternating 30Hz and 120Hz", 0.3, 7 * time.Second, []time.Duration{time.Second / 30, time.Second / 120}, 0.63, 6},
		{"jittery", 0.3, 7 * time.Second, []time.Duration{time.Second / 60, time.Second / 45, time.Second / 90, time.Second / 50}, 0.63, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessFor(t, 0, tt.duration, input("mic", "Built-in Microphone"))
			ctx := context.Background()
			if err := h.machine.Init(ctx); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if err := h.machine.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}

			wave := audiotest.SquareWave(tt.amplitude, frameSize)
			var maxTick time.Duration
			for i := 0; h.machine.Snapshot().Phase == meter.PhaseRecording; i++ {
				if i > 10000 {
					t.Fatal("recording never finished")
				}
				dt := tt.ticks[i%len(tt.ticks)]
				if dt > maxTick {
					maxTick = dt
				}
				h.backend.Feed(wave)
				if err := h.machine.Advance(ctx, dt); err != nil {
					t.Fatalf("tick %d failed: %v", i, err)
				}
			}

			st := h.machine.Snapshot()
			if st.Phase != meter.PhaseResults {
				t.Fatalf("expected results, got %s", st.Phase)
			}
			// The last tick may overshoot the duration by up to one tick
			tolerance := tt.amplitude*tt.amplitude*maxTick.Seconds() + 0.01
			if math.Abs(st.Energy-tt.energy) > tolerance {
				t.Errorf("expected energy ~%.3f, got %f", tt.energy, st.Energy)
			}
			if rate := st.Energy / st.Elapsed; math.Abs(rate-tt.amplitude*tt.amplitude) > 0.002 {
				t.Errorf("expected energy/elapsed ~%.3f, got %f", tt.amplitude*tt.amplitude, rate)
			}
			if st.Score != tt.score {
				t.Errorf("expected score %d, got %d", tt.score, st.Score)
			}
		})
	}
}

func TestSilentRecordingScoresMinimum(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	h.record(t, 0, 420)

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseResults {
		t.Fatalf("expected results, got %s", st.Phase)
	}
	if st.Energy != 0 || st.Peak != 0 || st.Score != meter.MinScore {
		t.Errorf("unexpected silent result %+v", st)
	}
}

func TestAbortDuringRecording(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	h.record(t, 0.5, 100)
	if got := h.machine.Snapshot().Phase; got != meter.PhaseRecording {
		t.Fatalf("expected recording, got %s", got)
	}

	h.machine.Abort()

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseIdle {
		t.Errorf("expected idle, got %s", st.Phase)
	}
	if st.Energy != 0 || st.Elapsed != 0 {
		t.Errorf("abort should discard accumulators, got %+v", st)
	}
	if h.backend.LiveStreams() != 0 || h.session.Live() {
		t.Error("abort should release capture")
	}
	if _, ok := h.machine.Measurement(); ok {
		t.Error("abort must not produce a measurement")
	}
	if h.submitter.count() != 0 {
		t.Error("abort must not submit")
	}
}

func TestSubmitFailureKeepsResults(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.record(t, 0.3, 420)

	h.submitter.setErr(errors.New("server unavailable"))
	if err := h.machine.Submit(ctx); err == nil {
		t.Fatal("expected submit error")
	}

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseResults {
		t.Fatalf("expected results after failed submit, got %s", st.Phase)
	}
	if st.SubmitError != "server unavailable" {
		t.Errorf("unexpected submit error %q", st.SubmitError)
	}
	if _, ok := h.machine.Measurement(); !ok {
		t.Fatal("measurement should survive a failed submit")
	}

	h.submitter.setErr(nil)
	if err := h.machine.Submit(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := h.machine.Snapshot().Phase; got != meter.PhaseSubmitted {
		t.Errorf("expected submitted, got %s", got)
	}
}

func TestBeginSubmitRejectsSecondSubmit(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.record(t, 0.3, 420)

	if _, err := h.machine.BeginSubmit(); err != nil {
		t.Fatalf("BeginSubmit failed: %v", err)
	}
	if _, err := h.machine.BeginSubmit(); !errors.Is(err, meter.ErrInvalidTransition) {
		t.Errorf("expected invalid transition while submitting, got %v", err)
	}

	h.machine.CompleteSubmit(nil)
	if got := h.machine.Snapshot().Phase; got != meter.PhaseSubmitted {
		t.Errorf("expected submitted, got %s", got)
	}
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	if err := h.machine.Start(ctx); !errors.Is(err, meter.ErrInvalidTransition) {
		t.Errorf("Start from idle: expected invalid transition, got %v", err)
	}
	if err := h.machine.Submit(ctx); !errors.Is(err, meter.ErrInvalidTransition) {
		t.Errorf("Submit from idle: expected invalid transition, got %v", err)
	}

	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := h.machine.Init(ctx); !errors.Is(err, meter.ErrInvalidTransition) {
		t.Errorf("Init from monitoring: expected invalid transition, got %v", err)
	}
	if err := h.machine.Again(ctx); !errors.Is(err, meter.ErrInvalidTransition) {
		t.Errorf("Again from monitoring: expected invalid transition, got %v", err)
	}
	if got := h.machine.Snapshot().Phase; got != meter.PhaseMonitoring {
		t.Errorf("rejected events must not change phase, got %s", got)
	}
}

func TestPermissionDeniedAndRetry(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	h.backend.FailOpen("", audio.ErrPermissionDenied)

	err := h.machine.Init(ctx)
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	st := h.machine.Snapshot()
	if st.Phase != meter.PhasePermissionDenied || st.Reason == "" {
		t.Fatalf("expected permission_denied with reason, got %+v", st)
	}

	h.backend.FailOpen("", nil)
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	st = h.machine.Snapshot()
	if st.Phase != meter.PhaseMonitoring || st.Reason != "" {
		t.Errorf("expected clean monitoring after retry, got %+v", st)
	}
}

func TestEnumerationFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.backend.FailDevices(errors.New("backend gone"))

	if err := h.machine.Init(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseError || st.Reason == "" {
		t.Errorf("expected error phase with reason, got %+v", st)
	}
	if h.backend.LiveStreams() != 0 {
		t.Error("no stream should be open")
	}
}

func TestStaleSessionWhileMonitoringRecovers(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	h.backend.Last().Kill()
	if err := h.machine.Advance(ctx, time.Second/60); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if got := h.machine.Snapshot().Phase; got != meter.PhaseMonitoring {
		t.Errorf("expected monitoring after recovery, got %s", got)
	}
	if len(h.backend.Streams()) != 2 {
		t.Errorf("expected a second stream to be opened, got %d", len(h.backend.Streams()))
	}
	if h.backend.LiveStreams() != 1 {
		t.Errorf("expected 1 live stream, got %d", h.backend.LiveStreams())
	}
}

func TestStaleSessionWhileRecordingFails(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.record(t, 0.3, 60)

	h.backend.Last().Kill()
	err := h.machine.Advance(ctx, time.Second/60)
	if !errors.Is(err, audio.ErrStaleSession) {
		t.Fatalf("expected stale session, got %v", err)
	}

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseError || st.Reason == "" {
		t.Errorf("expected error with reason, got %+v", st)
	}
	if _, ok := h.machine.Measurement(); ok {
		t.Error("a broken take must not produce a measurement")
	}
	if h.backend.LiveStreams() != 0 {
		t.Error("capture should be released")
	}
}

func TestStaleSessionFallbackUpdatesDevice(t *testing.T) {
	h := newHarness(t, 3, input("usb", "USB Mic"))
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got := h.machine.Snapshot().DeviceID; got != "usb" {
		t.Fatalf("expected usb, got %q", got)
	}

	// Unplugged: the stream dies and the device can no longer be opened
	h.backend.Last().Kill()
	h.backend.FailOpen("usb", audio.ErrDeviceUnavailable)
	if err := h.machine.Advance(ctx, time.Second/60); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseMonitoring {
		t.Fatalf("expected monitoring, got %s", st.Phase)
	}
	if last := h.backend.Last(); last.DeviceID != "" || st.DeviceID != last.DeviceID {
		t.Errorf("state should name the live default input, got state %q stream %q", st.DeviceID, last.DeviceID)
	}
}

func TestInitWithUnknownDeviceUsesDefault(t *testing.T) {
	h := newHarness(t, 3, input("usb", "USB Mic"))
	ctx := context.Background()

	if err := h.machine.SwitchDevice(ctx, "Missing Mic"); err != nil {
		t.Fatalf("recording a preference before Init failed: %v", err)
	}
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if got := h.machine.Snapshot().DeviceID; got != "" {
		t.Errorf("expected platform default, got %q", got)
	}
	if len(h.backend.Streams()) != 1 || h.backend.Last().DeviceID != "" {
		t.Error("expected a single stream on the platform default")
	}
}

func TestAgainReturnsToMonitoring(t *testing.T) {
	h := newHarness(t, 0, input("usb", "USB Mic"))
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.record(t, 0.3, 420)

	if err := h.machine.Again(ctx); err != nil {
		t.Fatalf("Again failed: %v", err)
	}

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseMonitoring || st.Score != 0 || st.Energy != 0 {
		t.Errorf("expected fresh monitoring, got %+v", st)
	}
	if _, ok := h.machine.Measurement(); ok {
		t.Error("Again should discard the measurement")
	}
	if last := h.backend.Last(); last.DeviceID != "usb" || last.LiveTracks() == 0 {
		t.Errorf("expected live stream on usb, got %+v", last)
	}
}

func TestSwitchDevice(t *testing.T) {
	h := newHarness(t, 3, input("usb", "USB Mic"), input("builtin", "Built-in Microphone"))
	ctx := context.Background()

	// Before Init only the preference is recorded
	if err := h.machine.SwitchDevice(ctx, "usb"); err != nil {
		t.Fatalf("SwitchDevice from idle failed: %v", err)
	}
	if len(h.backend.Streams()) != 0 {
		t.Fatal("switching while idle must not open capture")
	}

	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got := h.machine.Snapshot().DeviceID; got != "usb" {
		t.Fatalf("expected preferred usb device, got %q", got)
	}

	h.backend.Feed(audiotest.SquareWave(0.5, frameSize))
	h.machine.Advance(ctx, time.Second/60)
	if h.machine.Snapshot().Level == 0 {
		t.Fatal("expected a non-zero level before switching")
	}

	if err := h.machine.SwitchDevice(ctx, "builtin"); err != nil {
		t.Fatalf("SwitchDevice failed: %v", err)
	}
	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseMonitoring || st.DeviceID != "builtin" || st.Level != 0 {
		t.Errorf("unexpected state after switch %+v", st)
	}
	if h.backend.LiveStreams() != 1 || h.backend.Last().DeviceID != "builtin" {
		t.Error("expected exactly one live stream on the new device")
	}
}

func TestSwitchDeviceByLabel(t *testing.T) {
	h := newHarness(t, 3, input("usb", "USB Mic"), input("builtin", "Built-in Microphone"))
	ctx := context.Background()
	// Platform backends open by id only
	h.backend.FailOpen("USB Mic", audio.ErrDeviceUnavailable)

	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := h.machine.SwitchDevice(ctx, "USB Mic"); err != nil {
		t.Fatalf("SwitchDevice failed: %v", err)
	}

	st := h.machine.Snapshot()
	if st.DeviceID != "usb" {
		t.Errorf("expected label to resolve to usb, got %q", st.DeviceID)
	}
	if last := h.backend.Last(); last.DeviceID != "usb" || h.backend.LiveStreams() != 1 {
		t.Errorf("expected one live stream on usb, got %q", last.DeviceID)
	}
}

func TestSwitchDeviceUnknownKeepsCurrentInput(t *testing.T) {
	h := newHarness(t, 3, input("usb", "USB Mic"), input("builtin", "Built-in Microphone"))
	ctx := context.Background()
	if err := h.machine.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	opened := len(h.backend.Streams())

	err := h.machine.SwitchDevice(ctx, "Nonexistent")
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}

	st := h.machine.Snapshot()
	if st.Phase != meter.PhaseMonitoring || st.DeviceID != "builtin" {
		t.Errorf("expected monitoring on builtin, got %+v", st)
	}
	if len(h.backend.Streams()) != opened || h.backend.LiveStreams() != 1 {
		t.Error("an unknown device must not touch the capture session")
	}
}

func TestInitPrefersRankedDevice(t *testing.T) {
	h := newHarness(t, 3,
		input("ext", "External Interface"),
		input("loop", "Loopback Audio"),
		input("builtin", "MacBook Built-in Microphone"),
	)

	if err := h.machine.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got := h.machine.Snapshot().DeviceID; got != "builtin" {
		t.Errorf("expected builtin, got %q", got)
	}

	devices := h.machine.Devices()
	if len(devices) != 2 {
		t.Fatalf("expected loopback to be filtered, got %v", devices)
	}
	if devices[0].ID != "builtin" || devices[1].ID != "ext" {
		t.Errorf("unexpected ranking %v", devices)
	}
}
