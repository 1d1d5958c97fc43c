package insteon

import (
	"fmt"
	"math"
	"sort"
)

// Device type names.
const (
	DeviceTypeAppliance = "insteon_appliance"
	DeviceTypeLamp      = "insteon_lamp"
)

// DeviceProfile describes how a device type reports its level.
type DeviceProfile struct {
	// Raw is the level range in device units.
	Raw Range `yaml:"raw"`

	// Level is the normalized range published to the rest of the system.
	Level Range `yaml:"level"`

	// Binary devices are either fully off or fully on; any raw level
	// above Raw.Min normalizes to Level.Max.
	Binary bool `yaml:"binary"`
}

// Validate checks both ranges.
func (p DeviceProfile) Validate() error {
	if err := p.Raw.Validate(); err != nil {
		return fmt.Errorf("raw range: %w", err)
	}
	if err := p.Level.Validate(); err != nil {
		return fmt.Errorf("level range: %w", err)
	}
	return nil
}

// Normalize converts a raw device level to the normalized range.
func (p DeviceProfile) Normalize(raw float64) (float64, error) {
	if p.Binary {
		if err := p.Raw.Validate(); err != nil {
			return 0, err
		}
		if p.Raw.Clamp(raw) != p.Raw.Min {
			return p.Level.Max, nil
		}
		return p.Level.Min, nil
	}

	level, err := Translate(raw, p.Raw, p.Level)
	if err != nil {
		return 0, err
	}
	// Whole percentages keep redundant reports from looking like changes.
	return math.Round(level), nil
}

// Denormalize converts a normalized level back to device units, rounded to
// the nearest whole unit.
func (p DeviceProfile) Denormalize(level float64) (float64, error) {
	raw, err := Translate(level, p.Level, p.Raw)
	if err != nil {
		return 0, err
	}
	return math.Round(raw), nil
}

// LabelFor returns "on" for any level above the bottom of the range,
// otherwise "off".
func (p DeviceProfile) LabelFor(level float64) string {
	if level > math.Min(p.Level.Min, p.Level.Max) {
		return LabelOn
	}
	return LabelOff
}

// Describe renders a human-readable state such as "on (60%)" or "off".
func (p DeviceProfile) Describe(level float64) string {
	label := p.LabelFor(level)
	if label == LabelOff || p.Binary {
		return label
	}
	return fmt.Sprintf("%s (%g%%)", label, level)
}

// Profiles maps device type names to profiles.
type Profiles map[string]DeviceProfile

// DefaultProfiles returns the appliance and lamp profiles.
func DefaultProfiles() Profiles {
	return Profiles{
		DeviceTypeAppliance: {
			Raw:    Range{Min: 0, Max: 255},
			Level:  Range{Min: 0, Max: 100},
			Binary: true,
		},
		DeviceTypeLamp: {
			Raw:   Range{Min: 0, Max: 255},
			Level: Range{Min: 0, Max: 100},
		},
	}
}

// Lookup returns the profile for a device type, falling back to the lamp
// profile (or the built-in one) for unknown or empty types.
func (p Profiles) Lookup(deviceType string) DeviceProfile {
	if profile, ok := p[deviceType]; ok {
		return profile
	}
	if profile, ok := p[DeviceTypeLamp]; ok {
		return profile
	}
	return DefaultProfiles()[DeviceTypeLamp]
}

// Validate checks every profile and reports them in name order.
func (p Profiles) Validate() error {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p[name].Validate(); err != nil {
			return fmt.Errorf("device type %s: %w", name, err)
		}
	}
	return nil
}
