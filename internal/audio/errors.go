package audio

import "errors"

var (
	// ErrPermissionDenied means the user or platform refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable means the device disappeared or failed to open
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrStaleSession means the capture stream has no live tracks left
	ErrStaleSession = errors.New("capture session is stale")

	// ErrEmptySampleBlock means a zero-length block reached the estimator
	ErrEmptySampleBlock = errors.New("empty sample block")
)
