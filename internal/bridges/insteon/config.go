package insteon

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interface kinds.
const (
	KindPLM    = "plm"
	KindRemote = "remote"
)

// Config is the Insteon bridge configuration file.
type Config struct {
	Bridge         BridgeConfig             `yaml:"bridge"`
	Reconciliation ReconciliationConfig     `yaml:"reconciliation"`
	Sweep          SweepConfig              `yaml:"sweep"`
	DeviceTypes    map[string]DeviceProfile `yaml:"device_types"`
	Interfaces     []InterfaceConfig        `yaml:"interfaces"`
	Devices        []DeviceConfig           `yaml:"devices"`
}

// BridgeConfig identifies the bridge.
type BridgeConfig struct {
	// ID names the bridge in health and discovery messages.
	ID string `yaml:"id"`

	// GatewayID is the owner id devices must carry to be commanded here.
	// Defaults to the service gateway.id.
	GatewayID string `yaml:"gateway_id"`

	// HealthInterval is in seconds.
	HealthInterval int `yaml:"health_interval"`

	// AutoFailover reselects the active interface on the sweep tick when
	// the current one is missing or unhealthy.
	AutoFailover bool `yaml:"auto_failover"`
}

// ReconciliationConfig tunes status correlation.
type ReconciliationConfig struct {
	WindowMS       int                 `yaml:"window_ms"`
	CandidateLimit int                 `yaml:"candidate_limit"`
	Compatibility  map[string][]string `yaml:"compatibility"`
}

// SweepConfig controls expiry of unconfirmed commands.
type SweepConfig struct {
	IntervalSeconds   int `yaml:"interval_seconds"`
	CommandTTLSeconds int `yaml:"command_ttl_seconds"`

	// RetainSeconds keeps finalized commands queryable for this long.
	RetainSeconds int `yaml:"retain_seconds"`
}

// InterfaceConfig declares one candidate interface.
type InterfaceConfig struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	Priority int          `yaml:"priority"`
	Enabled  *bool        `yaml:"enabled"`
	Serial   SerialConfig `yaml:"serial"`
	Remote   RemoteConfig `yaml:"remote"`
}

// IsEnabled treats a missing enabled flag as true.
func (c InterfaceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SerialConfig configures a PowerLinc Modem.
type SerialConfig struct {
	Port         string `yaml:"port"`
	BaudRate     int    `yaml:"baud_rate"`
	AckTimeoutMS int    `yaml:"ack_timeout_ms"`
}

// RemoteConfig configures an interface reached over MQTT.
type RemoteConfig struct {
	TopicPrefix string `yaml:"topic_prefix"`

	// OneWay interfaces cannot report outcomes; sends complete immediately.
	OneWay bool `yaml:"one_way"`
}

// DeviceConfig seeds the device directory.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Type    string `yaml:"type"`

	// GatewayID defaults to bridge.gateway_id.
	GatewayID string `yaml:"gateway_id"`
}

// LoadConfig reads the bridge configuration from a YAML file.
// Order: defaults, file, INSTEON_BRIDGE_* environment, validation.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading insteon config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing insteon config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "insteon-bridge-01",
			HealthInterval: 30,
		},
		Reconciliation: ReconciliationConfig{
			WindowMS:       int(DefaultReconcileWindow / time.Millisecond),
			CandidateLimit: DefaultCandidateLimit,
		},
		Sweep: SweepConfig{
			IntervalSeconds:   5,
			CommandTTLSeconds: 30,
			RetainSeconds:     300,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSTEON_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_GATEWAY_ID"); v != "" {
		cfg.Bridge.GatewayID = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_SERIAL_PORT"); v != "" {
		for i := range cfg.Interfaces {
			if cfg.Interfaces[i].Kind == KindPLM {
				cfg.Interfaces[i].Serial.Port = v
				break
			}
		}
	}
}

// Validate checks the configuration and reports every problem found.
// Degenerate device type ranges are reported with ErrDegenerateRange.
func (c *Config) Validate() error {
	var errs []string
	var rangeErr error

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateReconciliation()...)
	errs = append(errs, c.validateSweep()...)

	typeErrs, rErr := c.validateDeviceTypes()
	errs = append(errs, typeErrs...)
	rangeErr = rErr

	errs = append(errs, c.validateInterfaces()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) == 0 {
		return nil
	}

	err := fmt.Errorf("insteon configuration errors: %s", strings.Join(errs, "; "))
	if rangeErr != nil {
		return errors.Join(err, rangeErr)
	}
	return err
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateReconciliation() []string {
	var errs []string
	if c.Reconciliation.WindowMS < 1 {
		errs = append(errs, "reconciliation.window_ms must be positive")
	}
	if c.Reconciliation.CandidateLimit < 0 {
		errs = append(errs, "reconciliation.candidate_limit must not be negative")
	}
	for observed, labels := range c.Reconciliation.Compatibility {
		if len(labels) == 0 {
			errs = append(errs, fmt.Sprintf("reconciliation.compatibility.%s must list at least one command", observed))
		}
	}
	return errs
}

func (c *Config) validateSweep() []string {
	var errs []string
	if c.Sweep.IntervalSeconds < 1 {
		errs = append(errs, "sweep.interval_seconds must be at least 1")
	}
	if c.Sweep.CommandTTLSeconds < 1 {
		errs = append(errs, "sweep.command_ttl_seconds must be at least 1")
	}
	if c.Sweep.CommandTTLSeconds*1000 < c.Reconciliation.WindowMS {
		errs = append(errs, "sweep.command_ttl_seconds must not be shorter than the reconciliation window")
	}
	return errs
}

func (c *Config) validateDeviceTypes() ([]string, error) {
	var errs []string
	var first error

	names := make([]string, 0, len(c.DeviceTypes))
	for name := range c.DeviceTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.DeviceTypes[name].Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("device_types.%s: %v", name, err))
			if first == nil {
				first = err
			}
		}
	}
	return errs, first
}

func (c *Config) validateInterfaces() []string {
	var errs []string
	names := make(map[string]bool)

	for i, iface := range c.Interfaces {
		if iface.Name == "" {
			errs = append(errs, fmt.Sprintf("interfaces[%d].name is required", i))
		} else if names[iface.Name] {
			errs = append(errs, fmt.Sprintf("interfaces[%d].name %q is duplicate", i, iface.Name))
		}
		names[iface.Name] = true

		switch iface.Kind {
		case KindPLM:
			if iface.Serial.Port == "" {
				errs = append(errs, fmt.Sprintf("interfaces[%d].serial.port is required for plm", i))
			}
		case KindRemote:
			if iface.Remote.TopicPrefix == "" {
				errs = append(errs, fmt.Sprintf("interfaces[%d].remote.topic_prefix is required for remote", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("interfaces[%d].kind %q is invalid (use plm or remote)", i, iface.Kind))
		}
	}
	return errs
}

func (c *Config) validateDevices() []string {
	var errs []string
	ids := make(map[string]bool)
	addresses := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		} else if ids[dev.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicate", i, dev.ID))
		}
		ids[dev.ID] = true

		address, err := NormalizeAddress(dev.Address)
		if err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d].address %q is invalid", i, dev.Address))
			continue
		}
		if addresses[address] {
			errs = append(errs, fmt.Sprintf("devices[%d].address %s is duplicate", i, address))
		}
		addresses[address] = true
	}
	return errs
}

// ReconcilerConfig merges the file settings over the stock tables.
func (c *Config) ReconcilerConfig() ReconcilerConfig {
	rc := DefaultReconcilerConfig()
	rc.Window = time.Duration(c.Reconciliation.WindowMS) * time.Millisecond
	rc.CandidateLimit = c.Reconciliation.CandidateLimit

	if len(c.Reconciliation.Compatibility) > 0 {
		defaults := rc.Compatibility
		rc.Compatibility = Compatibility(c.Reconciliation.Compatibility).Clone()
		if _, ok := rc.Compatibility[AnyObservation]; !ok {
			rc.Compatibility[AnyObservation] = defaults[AnyObservation]
		}
	}
	for name, profile := range c.DeviceTypes {
		rc.Profiles[name] = profile
	}
	return rc
}

// GetHealthInterval returns the health reporting interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetSweepInterval returns how often stale commands are expired.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}

// GetCommandTTL returns how long a command may wait for confirmation.
func (c *Config) GetCommandTTL() time.Duration {
	return time.Duration(c.Sweep.CommandTTLSeconds) * time.Second
}

// GetRetention returns how long finalized commands are kept.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Sweep.RetainSeconds) * time.Second
}
