package app

import (
	"context"
	"fmt"
	"io"

	"github.com/emmett/crowdmeter/internal/audio"
)

// DeviceManager handles audio device selection and listing
type DeviceManager struct {
	catalog *audio.Catalog
	out     io.Writer
}

// NewDeviceManager creates a new DeviceManager instance
func NewDeviceManager(catalog *audio.Catalog, out io.Writer) *DeviceManager {
	return &DeviceManager{catalog: catalog, out: out}
}

// ListDevices prints the usable input devices in preference order,
// marking the one a measurement would open
func (dm *DeviceManager) ListDevices(ctx context.Context, override string) error {
	devices, err := dm.catalog.Enumerate(ctx)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Fprintln(dm.out, "No microphone inputs found; measurements will use the platform default.")
		return nil
	}

	ranked := audio.Rank(devices)
	preferred, ok := audio.Preferred(ranked, override)

	fmt.Fprintf(dm.out, "Found %d input device(s), in preference order:\n\n", len(ranked))
	for i, d := range ranked {
		marker := ""
		if ok && d.ID == preferred.ID {
			marker = " [SELECTED]"
		}
		fmt.Fprintf(dm.out, "%d. %s%s\n", i+1, d.Label, marker)
		fmt.Fprintf(dm.out, "   ID: %s\n", d.ID)
	}

	fmt.Fprintln(dm.out)
	if !ok {
		fmt.Fprintf(dm.out, "Configured device %q not found; measurements will use the platform default.\n\n", override)
	}
	fmt.Fprintln(dm.out, "To use a specific device, run:")
	fmt.Fprintf(dm.out, "  crowdmeter measure --device %q\n", ranked[len(ranked)-1].Label)

	return nil
}

// SelectDevice resolves name (id or label) against the enumerated
// devices. An empty name selects the best ranked device; a name that
// matches nothing is an error.
func (dm *DeviceManager) SelectDevice(ctx context.Context, name string) (audio.InputDevice, error) {
	devices, err := dm.catalog.Enumerate(ctx)
	if err != nil {
		return audio.InputDevice{}, err
	}

	if name != "" {
		if d, ok := audio.Find(devices, name); ok {
			return d, nil
		}
		return audio.InputDevice{}, fmt.Errorf("%w: %q not found (see `crowdmeter devices`)", audio.ErrDeviceUnavailable, name)
	}

	d, ok := audio.Preferred(devices, "")
	if !ok {
		// Platform default
		return audio.InputDevice{Label: "default input", Kind: audio.DeviceKindInput}, nil
	}
	return d, nil
}
