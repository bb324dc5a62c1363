package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// MalgoBackend implements Backend on top of miniaudio
type MalgoBackend struct {
	mu           sync.Mutex
	malgoContext *malgo.AllocatedContext
	log          zerolog.Logger
}

// NewMalgoBackend initializes a malgo context shared by all streams
func NewMalgoBackend(log zerolog.Logger) (*MalgoBackend, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("source", "miniaudio").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	return &MalgoBackend{malgoContext: malgoCtx, log: log}, nil
}

// Devices returns the capture devices known to miniaudio
func (b *MalgoBackend) Devices(ctx context.Context) ([]InputDevice, error) {
	infos, err := b.captureInfos()
	if err != nil {
		return nil, err
	}

	devices := make([]InputDevice, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		id := info.ID.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		label := info.Name()
		if info.IsDefault > 0 && !strings.Contains(strings.ToLower(label), "default") {
			label += " (default)"
		}
		devices = append(devices, InputDevice{
			ID:    id,
			Label: label,
			Kind:  DeviceKindInput,
		})
	}

	return devices, nil
}

func (b *MalgoBackend) captureInfos() ([]malgo.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.malgoContext == nil {
		return nil, fmt.Errorf("malgo context closed")
	}
	infos, err := b.malgoContext.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	return infos, nil
}

// Open starts a mono unsigned 8-bit capture stream
func (b *MalgoBackend) Open(ctx context.Context, deviceID string, cfg CaptureConfig, sink *Window) (Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatU8
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = cfg.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	if deviceID != "" {
		infos, err := b.captureInfos()
		if err != nil {
			return nil, err
		}
		var found bool
		for _, info := range infos {
			if info.ID.String() == deviceID {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, deviceID)
		}
	}

	stream := &malgoStream{log: b.log.With().Str("device", deviceID).Logger()}

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, framecount uint32) {
			sink.Write(pInputSamples)
		},
		// Fires when the device is unplugged or access is revoked
		Stop: func() {
			stream.stopped.Store(true)
		},
	}

	b.mu.Lock()
	if b.malgoContext == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: malgo context closed", ErrDeviceUnavailable)
	}
	device, err := malgo.InitDevice(b.malgoContext.Context, deviceConfig, callbacks)
	b.mu.Unlock()
	if err != nil {
		return nil, classifyOpenError(err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classifyOpenError(err)
	}

	stream.device = device
	return stream, nil
}

// Close releases the malgo context. Streams must be closed first.
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.malgoContext == nil {
		return nil
	}
	err := b.malgoContext.Uninit()
	b.malgoContext.Free()
	b.malgoContext = nil
	return err
}

// classifyOpenError maps miniaudio open failures onto the capture taxonomy
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

type malgoStream struct {
	device  *malgo.Device
	stopped atomic.Bool
	closed  atomic.Bool
	log     zerolog.Logger
}

func (s *malgoStream) LiveTracks() int {
	if s.closed.Load() || s.stopped.Load() || s.device == nil {
		return 0
	}
	if !s.device.IsStarted() {
		return 0
	}
	return 1
}

func (s *malgoStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	if err := s.device.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop capture device")
	}
	s.device.Uninit()
	return nil
}
