package device

import "time"

// Device is an Insteon module known to this gateway.
// This matches the devices table in migrations/20261018_120000_devices.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	// Type selects the translation profile, e.g. "insteon_lamp".
	Type string `json:"type"`

	// Address is the canonical dotted form, e.g. "1A.2B.3C".
	Address string `json:"address"`

	// GatewayID is the gateway that owns the device. Only the owning
	// gateway sends it commands.
	GatewayID string `json:"gateway_id"`

	// Current state
	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the last confirmed state, e.g. {"on": true, "level": 60}.
type State map[string]any

// Level returns the "level" entry of the state, if any.
func (s State) Level() (float64, bool) {
	switch v := s["level"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// DeepCopy creates a complete independent copy of the Device.
// All map fields are cloned so modifications to the copy do not affect the
// original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cp := *d
	cp.State = State(deepCopyMap(d.State))
	if d.StateUpdatedAt != nil {
		t := *d.StateUpdatedAt
		cp.StateUpdatedAt = &t
	}
	return &cp
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// Known Insteon device types.
const (
	TypeAppliance = "insteon_appliance"
	TypeLamp      = "insteon_lamp"
)
