package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// CaptureSession is the live handle to one open stream plus its analysis
// window. It is owned by the Session that acquired it.
type CaptureSession struct {
	id       uint64
	deviceID string
	stream   Stream
	window   *Window
	raw      []byte
	samples  []float32
	released bool
}

// DeviceID returns the device the session was opened on ("" = default)
func (cs *CaptureSession) DeviceID() string {
	return cs.deviceID
}

// Session owns the single live capture path. It is not safe for
// concurrent use; the meter drives it from one goroutine.
type Session struct {
	backend Backend
	config  CaptureConfig
	log     zerolog.Logger

	current *CaptureSession
	nextID  uint64
	opened  atomic.Int64
}

// NewSession creates a session manager over backend
func NewSession(backend Backend, config CaptureConfig, log zerolog.Logger) *Session {
	return &Session{
		backend: backend,
		config:  config,
		log:     log,
	}
}

// Acquire opens a capture stream on deviceID, or the platform default when
// deviceID is empty. Any current session is released first so at most one
// stream is ever open. An explicit device that is unavailable falls back to
// the platform default once.
func (s *Session) Acquire(ctx context.Context, deviceID string) (*CaptureSession, error) {
	s.Release(s.current)

	cs, err := s.open(ctx, deviceID)
	if err != nil && deviceID != "" && errors.Is(err, ErrDeviceUnavailable) {
		s.log.Warn().Err(err).Str("device", deviceID).Msg("Device unavailable, falling back to default input")
		cs, err = s.open(ctx, "")
	}
	if err != nil {
		return nil, err
	}

	s.current = cs
	return cs, nil
}

func (s *Session) open(ctx context.Context, deviceID string) (*CaptureSession, error) {
	window := NewWindow(s.config.FrameSize)

	stream, err := s.backend.Open(ctx, deviceID, s.config, window)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}

	s.nextID++
	s.opened.Add(1)
	s.log.Debug().Uint64("session", s.nextID).Str("device", deviceID).Msg("Capture session acquired")

	return &CaptureSession{
		id:       s.nextID,
		deviceID: deviceID,
		stream:   stream,
		window:   window,
		raw:      make([]byte, s.config.FrameSize),
		samples:  make([]float32, s.config.FrameSize),
	}, nil
}

// IsHealthy reports whether cs can still be read: not released and its
// stream has at least one live track.
func (s *Session) IsHealthy(cs *CaptureSession) bool {
	if cs == nil || cs.released {
		return false
	}
	return cs.stream.LiveTracks() > 0
}

// Release stops all tracks and detaches the analysis window. Safe to call
// with nil or an already released session.
func (s *Session) Release(cs *CaptureSession) {
	if cs == nil || cs.released {
		return
	}
	cs.released = true

	if err := cs.stream.Close(); err != nil {
		s.log.Warn().Err(err).Uint64("session", cs.id).Msg("Failed to close capture stream")
	}
	cs.window = nil
	s.opened.Add(-1)

	if s.current == cs {
		s.current = nil
	}
	s.log.Debug().Uint64("session", cs.id).Msg("Capture session released")
}

// ReleaseCurrent releases whatever session is live, if any
func (s *Session) ReleaseCurrent() {
	s.Release(s.current)
}

// Ensure returns cs when it is healthy; otherwise it releases cs and
// re-acquires the same device. The bool is true when a new session was
// opened.
func (s *Session) Ensure(ctx context.Context, cs *CaptureSession) (*CaptureSession, bool, error) {
	if s.IsHealthy(cs) {
		return cs, false, nil
	}

	deviceID := ""
	if cs != nil {
		deviceID = cs.deviceID
		s.log.Info().Uint64("session", cs.id).Msg("Capture session went stale, re-acquiring")
	}
	s.Release(cs)

	fresh, err := s.Acquire(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}

// SampleBlock pulls the latest frame of time-domain samples normalized to
// -1..1. The returned slice is reused by the next call.
func (s *Session) SampleBlock(cs *CaptureSession) ([]float32, error) {
	if !s.IsHealthy(cs) {
		return nil, ErrStaleSession
	}

	n := cs.window.Snapshot(cs.raw)
	cs.samples = NormalizeU8(cs.raw[:n], cs.samples)
	return cs.samples, nil
}

// Current returns the live session, or nil
func (s *Session) Current() *CaptureSession {
	return s.current
}

// Live reports whether a live session exists
func (s *Session) Live() bool {
	return s.IsHealthy(s.current)
}

// OpenStreams returns how many streams are currently open. It never
// exceeds one.
func (s *Session) OpenStreams() int {
	return int(s.opened.Load())
}
