// Package audiotest provides an in-memory capture backend for tests.
package audiotest

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/emmett/crowdmeter/internal/audio"
)

// Backend is an audio.Backend whose devices and failures are scripted
type Backend struct {
	mu         sync.Mutex
	deviceList []audio.InputDevice
	devicesErr error
	openErr    map[string]error
	streams    []*Stream
}

// NewBackend creates a backend exposing devices
func NewBackend(devices ...audio.InputDevice) *Backend {
	return &Backend{
		deviceList: devices,
		openErr:    make(map[string]error),
	}
}

// FailDevices makes Devices return err
func (b *Backend) FailDevices(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devicesErr = err
}

// FailOpen makes Open(deviceID) return err; nil clears the failure
func (b *Backend) FailOpen(deviceID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.openErr, deviceID)
		return
	}
	b.openErr[deviceID] = err
}

// Devices implements audio.Backend
func (b *Backend) Devices(ctx context.Context) ([]audio.InputDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.devicesErr != nil {
		return nil, b.devicesErr
	}
	out := make([]audio.InputDevice, len(b.deviceList))
	copy(out, b.deviceList)
	return out, nil
}

// Open implements audio.Backend
func (b *Backend) Open(ctx context.Context, deviceID string, cfg audio.CaptureConfig, sink *audio.Window) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.openErr[deviceID]; err != nil {
		return nil, err
	}
	s := &Stream{DeviceID: deviceID, sink: sink}
	s.live.Store(1)
	b.streams = append(b.streams, s)
	return s, nil
}

// Streams returns every stream opened so far
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Stream, len(b.streams))
	copy(out, b.streams)
	return out
}

// Last returns the most recently opened stream, or nil
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// LiveStreams counts opened streams that still report live tracks
func (b *Backend) LiveStreams() int {
	var n int
	for _, s := range b.Streams() {
		if s.LiveTracks() > 0 {
			n++
		}
	}
	return n
}

// Feed writes data into the most recent open stream, if any
func (b *Backend) Feed(data []byte) {
	if s := b.Last(); s != nil && !s.Closed() {
		s.Feed(data)
	}
}

// Stream is a scripted capture stream
type Stream struct {
	DeviceID string
	sink     *audio.Window
	live     atomic.Int32
	closed   atomic.Bool
}

// LiveTracks implements audio.Stream
func (s *Stream) LiveTracks() int {
	if s.closed.Load() {
		return 0
	}
	return int(s.live.Load())
}

// Close implements audio.Stream
func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (s *Stream) Closed() bool {
	return s.closed.Load()
}

// Kill simulates the device being unplugged or access being revoked
func (s *Stream) Kill() {
	s.live.Store(0)
}

// Feed delivers raw unsigned 8-bit samples as the capture callback would
func (s *Stream) Feed(data []byte) {
	s.sink.Write(data)
}

// SquareWave returns n unsigned 8-bit samples alternating around silence
// whose RMS approximates amplitude (0..1) within the 8-bit quantization.
func SquareWave(amplitude float64, n int) []byte {
	dev := amplitude * 128
	lo, hi := math.Floor(dev), math.Ceil(dev)
	// Mix floor/ceil so the mean square matches dev²
	frac := 0.0
	if hi > lo {
		frac = (dev*dev - lo*lo) / (hi*hi - lo*lo)
	}

	out := make([]byte, n)
	var acc float64
	for i := 0; i < n; i += 2 {
		d := lo
		acc += frac
		if acc >= 1 {
			acc--
			d = hi
		}
		out[i] = clampU8(128 + d)
		if i+1 < n {
			out[i+1] = clampU8(128 - d)
		}
	}
	return out
}

func clampU8(v float64) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return byte(v)
}
