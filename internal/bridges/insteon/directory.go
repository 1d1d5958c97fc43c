package insteon

import (
	"context"
	"sync"
)

// DeviceSeed holds device fields derivable from the bridge config.
type DeviceSeed struct {
	ID        string
	Name      string
	Address   string
	Type      string
	GatewayID string
}

// Seeds returns the configured devices with normalized addresses and the
// gateway id filled in. Devices with invalid addresses are skipped;
// Validate reports them.
func (c *Config) Seeds(defaultGatewayID string) []DeviceSeed {
	gatewayID := c.Bridge.GatewayID
	if gatewayID == "" {
		gatewayID = defaultGatewayID
	}

	seeds := make([]DeviceSeed, 0, len(c.Devices))
	for _, dev := range c.Devices {
		address, err := NormalizeAddress(dev.Address)
		if err != nil {
			continue
		}
		seed := DeviceSeed{
			ID:        dev.ID,
			Name:      dev.Name,
			Address:   address,
			Type:      dev.Type,
			GatewayID: dev.GatewayID,
		}
		if seed.Type == "" {
			seed.Type = DeviceTypeLamp
		}
		if seed.GatewayID == "" {
			seed.GatewayID = gatewayID
		}
		if seed.Name == "" {
			seed.Name = seed.ID
		}
		seeds = append(seeds, seed)
	}
	return seeds
}

// StaticDirectory is an in-memory DeviceRegistry built from config seeds.
// The bridge uses it when no persistent registry is supplied.
type StaticDirectory struct {
	mu        sync.RWMutex
	byID      map[string]*DeviceRef
	byAddress map[string]*DeviceRef
}

// NewStaticDirectory creates a directory holding seeds.
func NewStaticDirectory(seeds []DeviceSeed) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(seeds)
	return d
}

// Replace swaps the directory contents, keeping last levels of devices that
// survive the swap.
func (d *StaticDirectory) Replace(seeds []DeviceSeed) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byID := make(map[string]*DeviceRef, len(seeds))
	byAddress := make(map[string]*DeviceRef, len(seeds))
	for _, s := range seeds {
		ref := &DeviceRef{
			ID:        s.ID,
			Name:      s.Name,
			Address:   s.Address,
			Type:      s.Type,
			GatewayID: s.GatewayID,
		}
		if old, ok := d.byID[s.ID]; ok && old.Address == s.Address {
			ref.LastLevel = old.LastLevel
		}
		byID[s.ID] = ref
		byAddress[s.Address] = ref
	}
	d.byID = byID
	d.byAddress = byAddress
}

// LookupAddress implements DeviceDirectory.
func (d *StaticDirectory) LookupAddress(_ context.Context, address string) (DeviceRef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ref, ok := d.byAddress[address]
	if !ok {
		return DeviceRef{}, false
	}
	return *ref, true
}

// GetDevice returns a device by id.
func (d *StaticDirectory) GetDevice(_ context.Context, id string) (DeviceRef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ref, ok := d.byID[id]
	if !ok {
		return DeviceRef{}, false
	}
	return *ref, true
}

// SetDeviceState records the level so lookups after a reload seed change
// detection.
func (d *StaticDirectory) SetDeviceState(_ context.Context, id string, state map[string]any, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, ok := d.byID[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if level, ok := state["level"].(float64); ok {
		ref.LastLevel = &level
	}
	return nil
}

// CreateDeviceIfNotExists adds a device unless its id is already present.
func (d *StaticDirectory) CreateDeviceIfNotExists(_ context.Context, seed DeviceSeed) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[seed.ID]; ok {
		return nil
	}
	ref := &DeviceRef{
		ID:        seed.ID,
		Name:      seed.Name,
		Address:   seed.Address,
		Type:      seed.Type,
		GatewayID: seed.GatewayID,
	}
	d.byID[seed.ID] = ref
	d.byAddress[seed.Address] = ref
	return nil
}

// Count returns the number of devices.
func (d *StaticDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
