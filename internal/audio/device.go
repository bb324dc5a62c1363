package audio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// DeviceKindInput is the only kind of device the catalog returns
const DeviceKindInput = "audioinput"

// InputDevice describes one capture device as reported by the platform.
// Values are only meaningful for the enumeration call that produced them.
type InputDevice struct {
	ID    string // Backend-specific device identifier
	Label string // Human-readable device name
	Kind  string // Always DeviceKindInput for catalog results
}

// String returns a human-readable representation of the device
func (d InputDevice) String() string {
	return fmt.Sprintf("%s (%s)", d.Label, d.ID)
}

// Labels matching any of these are virtual/loopback routes, not microphones
var excludedLabelTerms = []string{
	"virtual",
	"background music",
	"loopback",
	"stereo mix",
	"what u hear",
}

// Catalog lists and orders the capture devices a Backend exposes
type Catalog struct {
	backend Backend
	log     zerolog.Logger
}

// NewCatalog creates a device catalog over the given backend
func NewCatalog(backend Backend, log zerolog.Logger) *Catalog {
	return &Catalog{backend: backend, log: log}
}

// Enumerate returns the input-capable devices, minus virtual and loopback
// routes. An empty list is not an error; callers fall back to the platform
// default device.
func (c *Catalog) Enumerate(ctx context.Context) ([]InputDevice, error) {
	all, err := c.backend.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]InputDevice, 0, len(all))
	for _, d := range all {
		if d.Kind != "" && d.Kind != DeviceKindInput {
			continue
		}
		if isExcluded(d.Label) {
			c.log.Debug().Str("label", d.Label).Msg("Skipping virtual input device")
			continue
		}
		d.Kind = DeviceKindInput
		devices = append(devices, d)
	}

	return devices, nil
}

// Rank orders devices by preference: built-in, then USB, then external,
// then default-labelled, then label. Ties keep enumeration order.
func Rank(devices []InputDevice) []InputDevice {
	ranked := make([]InputDevice, len(devices))
	copy(ranked, devices)

	sort.SliceStable(ranked, func(i, j int) bool {
		return lessPreferred(ranked[i], ranked[j])
	})

	return ranked
}

// Find looks name up by device ID, then by label
func Find(devices []InputDevice, name string) (InputDevice, bool) {
	for _, d := range devices {
		if d.ID == name {
			return d, true
		}
	}
	for _, d := range devices {
		if d.Label == name {
			return d, true
		}
	}
	return InputDevice{}, false
}

// Preferred picks the device to open. An explicit override (id or label)
// must be present in devices; without one the top-ranked device is used.
// The second return is false when the platform default should be opened
// instead: an override that matches nothing, or no devices at all.
func Preferred(devices []InputDevice, overrideID string) (InputDevice, bool) {
	if overrideID != "" {
		return Find(devices, overrideID)
	}

	ranked := Rank(devices)
	if len(ranked) == 0 {
		return InputDevice{}, false
	}
	return ranked[0], true
}

func isExcluded(label string) bool {
	lower := strings.ToLower(label)
	for _, term := range excludedLabelTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Each predicate marks a label feature that moves a device up the list.
var rankPredicates = []func(label string) bool{
	func(l string) bool { return strings.Contains(l, "built-in") || strings.Contains(l, "builtin") },
	func(l string) bool { return strings.Contains(l, "usb") },
	func(l string) bool { return strings.Contains(l, "external") },
	func(l string) bool { return strings.Contains(l, "default") },
}

func lessPreferred(a, b InputDevice) bool {
	la, lb := strings.ToLower(a.Label), strings.ToLower(b.Label)
	for _, has := range rankPredicates {
		ha, hb := has(la), has(lb)
		if ha != hb {
			return ha
		}
	}
	return la < lb
}
