package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache indexed by ID and by
// Insteon address, so status observations resolve without a query.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	history StateHistoryRepository

	cache     map[string]*Device // by ID
	byAddress map[string]string  // address -> ID
	cacheMu   sync.RWMutex

	logger Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:      repo,
		cache:     make(map[string]*Device),
		byAddress: make(map[string]string),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetHistory makes SetDeviceState also append to a state history.
func (r *Registry) SetHistory(history StateHistoryRepository) {
	r.history = history
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.byAddress = make(map[string]string, len(devices))
	for i := range devices {
		r.storeLocked(&devices[i])
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// storeLocked caches a deep copy of d. cacheMu must be held.
func (r *Registry) storeLocked(d *Device) {
	if previous, ok := r.cache[d.ID]; ok && previous.Address != d.Address {
		delete(r.byAddress, previous.Address)
	}
	r.cache[d.ID] = d.DeepCopy()
	r.byAddress[d.Address] = d.ID
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Might be a device created by another process since the last refresh.
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()

	return device, nil
}

// GetDeviceByAddress retrieves a device by Insteon address in any accepted
// notation. Returns ErrInvalidAddress or ErrDeviceNotFound.
func (r *Registry) GetDeviceByAddress(ctx context.Context, address string) (*Device, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	r.cacheMu.RLock()
	id, ok := r.byAddress[normalized]
	var cached *Device
	if ok {
		cached = r.cache[id]
	}
	r.cacheMu.RUnlock()

	if cached != nil {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByAddress(ctx, normalized)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices ordered by name.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices, nil
}

// GetDevicesByGateway retrieves all devices owned by a gateway.
func (r *Registry) GetDevicesByGateway(ctx context.Context, gatewayID string) ([]Device, error) {
	all, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, d := range all {
		if d.GatewayID == gatewayID {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// CreateDevice creates a new device.
// It normalises the address, generates ID and slug if needed, validates
// the device and persists it.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.Slug == "" {
		device.Slug = GenerateSlug(device.Name)
	}
	if err := ValidateDevice(device); err != nil {
		return err
	}
	device.Address, _ = NormalizeAddress(device.Address)

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name, "address", device.Address)
	return nil
}

// CreateDeviceIfNotExists creates device unless its ID or address is
// already registered. It reports whether a device was created.
func (r *Registry) CreateDeviceIfNotExists(ctx context.Context, device *Device) (bool, error) {
	if device.ID != "" {
		if _, err := r.GetDevice(ctx, device.ID); err == nil {
			return false, nil
		} else if !errors.Is(err, ErrDeviceNotFound) {
			return false, err
		}
	}

	if _, err := r.GetDeviceByAddress(ctx, device.Address); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrDeviceNotFound) {
		return false, err
	}

	if err := r.CreateDevice(ctx, device); err != nil {
		if errors.Is(err, ErrDeviceExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateDevice updates an existing device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	existing, err := r.GetDevice(ctx, device.ID)
	if err != nil {
		return err
	}
	// Regenerate slug if name changed and slug wasn't explicitly set
	if device.Name != existing.Name && device.Slug == existing.Slug {
		device.Slug = GenerateSlug(device.Name)
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}
	device.Address, _ = NormalizeAddress(device.Address)

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		delete(r.byAddress, cached.Address)
		delete(r.cache, id)
	}
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetDeviceState merges state into the device's stored state and, when a
// history is configured, records the snapshot with source.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State, source string) error {
	if err := ValidateState(state); err != nil {
		return err
	}
	if err := r.repo.UpdateState(ctx, id, state); err != nil {
		return err
	}

	// Replace the cached device atomically so readers never see a partial map.
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		if updated.State == nil {
			updated.State = State{}
		}
		for k, v := range deepCopyMap(state) {
			updated.State[k] = v
		}
		now := time.Now().UTC()
		updated.StateUpdatedAt = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	if r.history != nil {
		if err := r.history.RecordStateChange(ctx, id, state, source); err != nil {
			r.logger.Warn("failed to record state history", "id", id, "error", err)
		}
	}

	r.logger.Debug("device state updated", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	ByType       map[string]int `json:"by_type"`
	ByGateway    map[string]int `json:"by_gateway"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByType:       make(map[string]int),
		ByGateway:    make(map[string]int),
	}
	for _, d := range r.cache {
		stats.ByType[d.Type]++
		stats.ByGateway[d.GatewayID]++
	}
	return stats
}
