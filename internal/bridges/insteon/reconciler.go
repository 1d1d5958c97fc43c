package insteon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Defaults for ReconcilerConfig.
const (
	DefaultReconcileWindow = time.Second
	DefaultCandidateLimit  = 1
)

// ReconcilerConfig holds the tunables of status reconciliation.
type ReconcilerConfig struct {
	// Window is how recent a command must be to explain an observation.
	Window time.Duration

	// CandidateLimit is how many recent commands are considered per
	// observation. Zero or less means all within the window.
	CandidateLimit int

	Compatibility Compatibility
	Profiles      Profiles
}

// DefaultReconcilerConfig returns a one second window, one candidate and the
// stock label and device type tables.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Window:         DefaultReconcileWindow,
		CandidateLimit: DefaultCandidateLimit,
		Compatibility:  DefaultCompatibility(),
		Profiles:       DefaultProfiles(),
	}
}

// Validate rejects non-positive windows and degenerate device ranges.
func (c ReconcilerConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("reconcile window must be positive, got %v", c.Window)
	}
	return c.Profiles.Validate()
}

// ReconcileResult describes what one observation did.
type ReconcileResult struct {
	Address string
	Known   bool
	Level   float64
	Label   string

	// Changed is true when the level differs from the last known level.
	Changed bool

	// Matched is true when the observation finalized a tracked command.
	Matched   bool
	RequestID string
	Source    string
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Tracker  *Tracker
	Devices  DeviceDirectory
	Config   ReconcilerConfig
	Sink     StatusSink
	Replier  Replier
	Notifier DiscoveryNotifier
	Metrics  Metrics
	Logger   Logger
}

// Reconciler turns status observations into device state and confirms the
// commands that caused them.
//
// Observations for different addresses are processed concurrently;
// observations for the same address are serialized.
type Reconciler struct {
	tracker  *Tracker
	devices  DeviceDirectory
	sink     StatusSink
	replier  Replier
	notifier DiscoveryNotifier
	metrics  Metrics
	logger   Logger

	mu         sync.Mutex
	cfg        ReconcilerConfig
	lastLevels map[string]float64
	announced  map[string]bool
	addrLocks  map[string]*sync.Mutex

	now func() time.Time
}

// NewReconciler creates a Reconciler. Tracker and Devices are required.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Tracker == nil {
		return nil, errors.New("reconciler: tracker is required")
	}
	if opts.Devices == nil {
		return nil, errors.New("reconciler: device directory is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	r := &Reconciler{
		tracker:    opts.Tracker,
		devices:    opts.Devices,
		sink:       opts.Sink,
		replier:    opts.Replier,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		cfg:        cloneReconcilerConfig(opts.Config),
		lastLevels: make(map[string]float64),
		announced:  make(map[string]bool),
		addrLocks:  make(map[string]*sync.Mutex),
		now:        time.Now,
	}
	if r.sink == nil {
		r.sink = noopStatusSink{}
	}
	if r.replier == nil {
		r.replier = noopReplier{}
	}
	if r.notifier == nil {
		r.notifier = noopNotifier{}
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Configure swaps in new tunables and clears discovery suppression.
// Known levels are kept so a reload does not rebroadcast every device.
func (r *Reconciler) Configure(cfg ReconcilerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cfg = cloneReconcilerConfig(cfg)
	r.announced = make(map[string]bool)
	r.mu.Unlock()
	return nil
}

// Config returns a copy of the active tunables.
func (r *Reconciler) Config() ReconcilerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneReconcilerConfig(r.cfg)
}

// LastLevel returns the last known normalized level for an address.
func (r *Reconciler) LastLevel(address string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.lastLevels[address]
	return level, ok
}

// Observe processes one status observation.
//
// Steps: normalize the address and level; announce unknown devices and stop;
// look for the most recent in-flight command within the window whose label
// is compatible and finalize it as done; record the level; broadcast the
// new state only if the level changed.
func (r *Reconciler) Observe(ctx context.Context, obs Observation) (ReconcileResult, error) {
	address, err := NormalizeAddress(obs.Address)
	if err != nil {
		r.metrics.ObservationReconciled(ObservationInvalid)
		return ReconcileResult{}, err
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = r.now()
	}

	unlock := r.lockAddress(address)
	defer unlock()

	cfg := r.Config()
	result := ReconcileResult{Address: address, Source: SourceExternal}

	device, known := r.devices.LookupAddress(ctx, address)
	profile := cfg.Profiles.Lookup(device.Type)

	level, err := profile.Normalize(obs.RawLevel)
	if err != nil {
		r.metrics.ObservationReconciled(ObservationInvalid)
		return result, fmt.Errorf("normalizing level for %s: %w", address, err)
	}
	result.Level = level
	result.Label = profile.LabelFor(level)

	if !known {
		r.announce(ctx, address, obs, level)
		r.metrics.ObservationReconciled(ObservationUnknown)
		return result, nil
	}
	result.Known = true

	previous, hadPrevious := r.previousLevel(address, device)
	result.Changed = !hadPrevious || previous != level

	candidates := r.tracker.PendingAt(address, InFlight, obs.ObservedAt, cfg.Window, cfg.CandidateLimit)
	for _, candidate := range candidates {
		if !cfg.Compatibility.Compatible(result.Label, candidate.Label) {
			continue
		}

		finalized, err := r.tracker.Finalize(candidate.RequestID, Done(profile.Describe(level)))
		if err != nil {
			// Another path (completion callback, sweep) got there first.
			r.logger.Warn("command already finalized during reconciliation",
				"request_id", candidate.RequestID,
				"address", address,
				"error", err,
			)
			continue
		}

		result.Matched = true
		result.RequestID = finalized.RequestID
		result.Source = attribution(finalized)
		r.metrics.CommandFinalized(finalized.State.String(), finalized.Latency())
		r.replier.CommandFinished(ctx, finalized)
		break
	}

	r.setLevel(address, level)

	switch {
	case result.Matched:
		r.metrics.ObservationReconciled(ObservationMatched)
	case result.Changed:
		r.metrics.ObservationReconciled(ObservationUnsolicited)
	default:
		r.metrics.ObservationReconciled(ObservationUnchanged)
	}

	if !result.Changed {
		r.logger.Debug("status unchanged", "address", address, "level", level)
		return result, nil
	}

	r.sink.PublishStatus(ctx, StatusUpdate{
		Device:      device,
		Level:       level,
		Label:       result.Label,
		Description: profile.Describe(level),
		Source:      result.Source,
		RequestID:   result.RequestID,
		Interface:   obs.Interface,
		ObservedAt:  obs.ObservedAt,
	})

	r.logger.Info("device status changed",
		"device_id", device.ID,
		"address", address,
		"level", level,
		"source", result.Source,
	)

	return result, nil
}

// attribution returns who a confirmed change should be credited to.
func attribution(cmd Command) string {
	if cmd.Requester != "" {
		return cmd.Requester
	}
	return cmd.RequestID
}

// announce notifies discovery once per address until the next Configure.
func (r *Reconciler) announce(ctx context.Context, address string, obs Observation, level float64) {
	r.mu.Lock()
	already := r.announced[address]
	r.announced[address] = true
	r.mu.Unlock()

	if already {
		return
	}

	r.logger.Info("status from unknown device", "address", address, "raw_level", obs.RawLevel)
	r.notifier.DeviceDiscovered(ctx, Discovery{
		Address:    address,
		RawLevel:   obs.RawLevel,
		Level:      level,
		Interface:  obs.Interface,
		ObservedAt: obs.ObservedAt,
	})
}

func (r *Reconciler) previousLevel(address string, device DeviceRef) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if level, ok := r.lastLevels[address]; ok {
		return level, true
	}
	if device.LastLevel != nil {
		return *device.LastLevel, true
	}
	return 0, false
}

func (r *Reconciler) setLevel(address string, level float64) {
	r.mu.Lock()
	r.lastLevels[address] = level
	r.mu.Unlock()
}

// lockAddress serializes work on one address and returns the unlock func.
func (r *Reconciler) lockAddress(address string) func() {
	r.mu.Lock()
	lock, ok := r.addrLocks[address]
	if !ok {
		lock = &sync.Mutex{}
		r.addrLocks[address] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func cloneReconcilerConfig(cfg ReconcilerConfig) ReconcilerConfig {
	out := cfg
	out.Compatibility = cfg.Compatibility.Clone()
	out.Profiles = make(Profiles, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		out.Profiles[name] = p
	}
	return out
}
