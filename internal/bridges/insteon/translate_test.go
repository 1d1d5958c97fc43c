package insteon

import (
	"errors"
	"math"
	"testing"
)

func TestTranslate(t *testing.T) {
	raw := Range{Min: 0, Max: 255}
	pct := Range{Min: 0, Max: 100}

	tests := []struct {
		name  string
		value float64
		in    Range
		out   Range
		want  float64
	}{
		{"min maps to min", 0, raw, pct, 0},
		{"max maps to max", 255, raw, pct, 100},
		{"midpoint", 127.5, raw, pct, 50},
		{"60 percent", 153, raw, pct, 60},
		{"below range clamps", -10, raw, pct, 0},
		{"above range clamps", 300, raw, pct, 100},
		{"percent to raw", 50, pct, raw, 127.5},
		{"reversed output", 0, pct, Range{Min: 100, Max: 0}, 100},
		{"reversed input", 25, Range{Min: 100, Max: 0}, pct, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.value, tt.in, tt.out)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Translate(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestTranslate_DegenerateRange(t *testing.T) {
	_, err := Translate(5, Range{Min: 3, Max: 3}, Range{Min: 0, Max: 100})
	if !errors.Is(err, ErrDegenerateRange) {
		t.Errorf("Translate() error = %v, want ErrDegenerateRange", err)
	}
}

func TestTranslate_StaysWithinOutput(t *testing.T) {
	in := Range{Min: 0, Max: 255}
	out := Range{Min: 0, Max: 100}
	for v := -50.0; v <= 300; v += 0.7 {
		got, err := Translate(v, in, out)
		if err != nil {
			t.Fatalf("Translate(%v) error = %v", v, err)
		}
		if got < 0 || got > 100 {
			t.Fatalf("Translate(%v) = %v, outside [0, 100]", v, got)
		}
	}
}

func TestDeviceProfile_Normalize(t *testing.T) {
	profiles := DefaultProfiles()

	tests := []struct {
		name       string
		deviceType string
		raw        float64
		want       float64
		label      string
		describe   string
	}{
		{"lamp off", DeviceTypeLamp, 0, 0, LabelOff, "off"},
		{"lamp full", DeviceTypeLamp, 255, 100, LabelOn, "on (100%)"},
		{"lamp 60", DeviceTypeLamp, 153, 60, LabelOn, "on (60%)"},
		{"lamp rounds", DeviceTypeLamp, 128, 50, LabelOn, "on (50%)"},
		{"lamp lowest step is on", DeviceTypeLamp, 1, 0, LabelOff, "off"},
		{"appliance on", DeviceTypeAppliance, 1, 100, LabelOn, "on"},
		{"appliance off", DeviceTypeAppliance, 0, 0, LabelOff, "off"},
		{"unknown type uses lamp", "mystery", 153, 60, LabelOn, "on (60%)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profiles.Lookup(tt.deviceType)
			got, err := p.Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%v) = %v, want %v", tt.raw, got, tt.want)
			}
			if label := p.LabelFor(got); label != tt.label {
				t.Errorf("LabelFor(%v) = %q, want %q", got, label, tt.label)
			}
			if d := p.Describe(got); d != tt.describe {
				t.Errorf("Describe(%v) = %q, want %q", got, d, tt.describe)
			}
		})
	}
}

func TestDeviceProfile_Denormalize(t *testing.T) {
	p := DefaultProfiles().Lookup(DeviceTypeLamp)
	got, err := p.Denormalize(60)
	if err != nil {
		t.Fatalf("Denormalize() error = %v", err)
	}
	if got != 153 {
		t.Errorf("Denormalize(60) = %v, want 153", got)
	}
}

func TestProfiles_Validate(t *testing.T) {
	profiles := DefaultProfiles()
	if err := profiles.Validate(); err != nil {
		t.Fatalf("default profiles invalid: %v", err)
	}

	profiles["broken"] = DeviceProfile{Raw: Range{Min: 1, Max: 1}, Level: Range{Min: 0, Max: 100}}
	if err := profiles.Validate(); !errors.Is(err, ErrDegenerateRange) {
		t.Errorf("Validate() error = %v, want ErrDegenerateRange", err)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1A.2B.3C", "1A.2B.3C", false},
		{"1a.2b.3c", "1A.2B.3C", false},
		{"1a:2b:3c", "1A.2B.3C", false},
		{"1A 2B 3C", "1A.2B.3C", false},
		{"1a-2b-3c", "1A.2B.3C", false},
		{"1a2b3c", "1A.2B.3C", false},
		{" 0a.0b.0c ", "0A.0B.0C", false},
		{"", "", true},
		{"1A.2B", "", true},
		{"1A.2B.3C.4D", "", true},
		{"ZZ.2B.3C", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("NormalizeAddress(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeAddress(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompatibility(t *testing.T) {
	c := DefaultCompatibility()

	tests := []struct {
		observed string
		command  string
		want     bool
	}{
		{"on", "on", true},
		{"on", "on_fast", true},
		{"on", "dim", true},
		{"on", "brighten", true},
		{"on", "dim_stop", true},
		{"on", "brighten_stop", true},
		{"off", "off", true},
		{"off", "off_fast", true},
		{"on", "off", false},
		{"off", "on", false},
		{"off", "dim", false},
		{"ON", "Dim_Stop", true},
		{"Off", "OFF_FAST", true},
		{"unknown", "on", false},
	}

	for _, tt := range tests {
		t.Run(tt.observed+"/"+tt.command, func(t *testing.T) {
			if got := c.Compatible(tt.observed, tt.command); got != tt.want {
				t.Errorf("Compatible(%q, %q) = %v, want %v", tt.observed, tt.command, got, tt.want)
			}
		})
	}
}

func TestCompatibility_CloneLowercases(t *testing.T) {
	c := Compatibility{"ON": {"Toggle"}}
	clone := c.Clone()
	if !clone.Compatible("on", "toggle") {
		t.Error("clone should match lowercased labels")
	}

	clone["on"][0] = "changed"
	if c["ON"][0] != "Toggle" {
		t.Error("Clone() shares backing arrays with the original")
	}
}

func TestCompatibility_AnyObservation(t *testing.T) {
	c := DefaultCompatibility()
	for _, observed := range []string{LabelOn, LabelOff, "OFF"} {
		if !c.Compatible(observed, LabelStatus) {
			t.Errorf("Compatible(%q, status) = false, want true", observed)
		}
	}
	if c.Compatible(LabelOff, LabelOn) {
		t.Error("the wildcard must not widen other sets")
	}
}

func TestCompatibility_CommandLabels(t *testing.T) {
	got := DefaultCompatibility().CommandLabels()
	want := []string{"brighten", "brighten_stop", "dim", "dim_stop", "off", "off_fast", "on", "on_fast", "status"}
	if len(got) != len(want) {
		t.Fatalf("CommandLabels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CommandLabels()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
