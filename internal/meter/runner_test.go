package meter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/emmett/crowdmeter/internal/audio/audiotest"
	"github.com/emmett/crowdmeter/internal/meter"
	"github.com/rs/zerolog"
)

func newRunnerHarness(t *testing.T) (*meter.Runner, *audiotest.Backend, *fakeSubmitter) {
	t.Helper()

	log := zerolog.Nop()
	backend := audiotest.NewBackend(input("mic", "Built-in Microphone"))
	session := audio.NewSession(backend, audio.CaptureConfig{SampleRate: 44100, FrameSize: frameSize}, log)
	submitter := &fakeSubmitter{}

	m := meter.NewMachine(meter.Config{
		Catalog:   audio.NewCatalog(backend, log),
		Session:   session,
		Submitter: submitter,
		Scorer:    meter.Scorer{Scale: 10},
		BandID:    "band-1",
		Duration:  150 * time.Millisecond,
		Logger:    log,
	})

	return meter.NewRunner(m, 5*time.Millisecond, log), backend, submitter
}

func waitForPhase(t *testing.T, r *meter.Runner, want meter.Phase) meter.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st := r.State(); st.Phase == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last state %s", want, r.State().Phase)
	return meter.State{}
}

func TestRunnerMeasuresAndSubmits(t *testing.T) {
	r, backend, submitter := newRunnerHarness(t)

	var (
		mu     sync.Mutex
		phases []meter.Phase
	)
	r.OnChange(func(st meter.State) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != st.Phase {
			phases = append(phases, st.Phase)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(r.Devices()) != 1 {
		t.Errorf("expected 1 device, got %v", r.Devices())
	}

	// The window keeps the last frame, so one feed holds the level steady
	backend.Feed(audiotest.SquareWave(0.5, frameSize))
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := waitForPhase(t, r, meter.PhaseResults)
	if st.Peak < 0.49 || st.Score < meter.MinScore {
		t.Errorf("unexpected results %+v", st)
	}
	if backend.LiveStreams() != 0 {
		t.Error("capture should be released in results")
	}

	if err := r.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForPhase(t, r, meter.PhaseSubmitted)
	if submitter.count() != 1 {
		t.Errorf("expected 1 submission, got %d", submitter.count())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, meter.ErrRunnerStopped) {
		t.Errorf("expected ErrRunnerStopped after shutdown, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []meter.Phase{meter.PhaseMonitoring, meter.PhaseRecording, meter.PhaseResults, meter.PhaseSubmitting, meter.PhaseSubmitted, meter.PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d: expected %s, got %s", i, want[i], phases[i])
		}
	}
}

func TestRunnerCancelReleasesCapture(t *testing.T) {
	r, backend, _ := newRunnerHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if backend.LiveStreams() != 1 {
		t.Fatalf("expected a live stream, got %d", backend.LiveStreams())
	}

	cancel()
	<-done

	if backend.LiveStreams() != 0 {
		t.Error("cancelling the runner must release capture")
	}
	if got := r.State().Phase; got != meter.PhaseIdle {
		t.Errorf("expected idle after cancel, got %s", got)
	}
}
