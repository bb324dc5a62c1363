package audio

import (
	"context"
)

// CaptureConfig holds configuration for audio capture
type CaptureConfig struct {
	// SampleRate is the number of samples per second (Hz)
	SampleRate uint32

	// FrameSize is the number of samples in one analysis block.
	// 2048 matches a typical analyser window at 44.1/48kHz.
	FrameSize int
}

// DefaultCaptureConfig returns the capture settings used for crowd metering
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate: 44100,
		FrameSize:  2048,
	}
}

// Stream is one open mono capture stream delivering unsigned 8-bit samples
type Stream interface {
	// LiveTracks reports how many capture tracks are still producing data.
	// Zero means the stream is dead and must not be read again.
	LiveTracks() int

	// Close stops all tracks. It must be safe to call more than once.
	Close() error
}

// Backend is the platform capture API
type Backend interface {
	// Devices lists the capture devices the platform knows about
	Devices(ctx context.Context) ([]InputDevice, error)

	// Open starts capturing from deviceID (empty = platform default),
	// writing raw samples into sink. Failures wrap ErrPermissionDenied or
	// ErrDeviceUnavailable.
	Open(ctx context.Context, deviceID string, cfg CaptureConfig, sink *Window) (Stream, error)
}
