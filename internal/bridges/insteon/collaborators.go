package insteon

import (
	"context"
	"time"
)

// DeviceRef is the bridge's view of a registered device.
type DeviceRef struct {
	ID        string
	Name      string
	Address   string
	Type      string
	GatewayID string

	// LastLevel is the last persisted normalized level, if any. It seeds
	// change detection after a restart.
	LastLevel *float64
}

// DeviceDirectory resolves addresses to registered devices.
type DeviceDirectory interface {
	LookupAddress(ctx context.Context, address string) (DeviceRef, bool)
}

// StatusUpdate is a confirmed device state change.
type StatusUpdate struct {
	Device      DeviceRef
	Level       float64
	Label       string
	Description string

	// Source is the requester of the command that caused the change, or
	// SourceExternal.
	Source    string
	RequestID string

	Interface  string
	ObservedAt time.Time
}

// StatusSink receives state changes for broadcast and persistence.
type StatusSink interface {
	PublishStatus(ctx context.Context, update StatusUpdate)
}

// Replier reports command progress back to whoever submitted it.
type Replier interface {
	// CommandAccepted is called once the command is tracked and about to be
	// sent, before any outcome can be reported.
	CommandAccepted(ctx context.Context, cmd Command)
	CommandFinished(ctx context.Context, cmd Command)
}

// CommandLog persists finalized commands beyond the tracker's retention.
type CommandLog interface {
	RecordCommand(ctx context.Context, cmd Command) error
}

// Discovery describes an address heard on the network that no registered
// device claims.
type Discovery struct {
	Address    string
	RawLevel   float64
	Level      float64
	Interface  string
	ObservedAt time.Time
}

// DiscoveryNotifier is told about unknown addresses.
type DiscoveryNotifier interface {
	DeviceDiscovered(ctx context.Context, d Discovery)
}

// Metrics receives counters from the gateway and reconciler.
type Metrics interface {
	CommandSubmitted(label string)
	CommandRejected(reason string)
	CommandFinalized(state string, latency time.Duration)
	ObservationReconciled(result string)
}

// Observation results reported to Metrics.
const (
	ObservationMatched     = "matched"
	ObservationUnsolicited = "unsolicited"
	ObservationUnchanged   = "unchanged"
	ObservationUnknown     = "unknown_device"
	ObservationInvalid     = "invalid"
	ObservationIgnored     = "inactive_interface"
)

// Logger is the logging interface used by this package.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) CommandSubmitted(string)                {}
func (noopMetrics) CommandRejected(string)                 {}
func (noopMetrics) CommandFinalized(string, time.Duration) {}
func (noopMetrics) ObservationReconciled(string)           {}

type noopReplier struct{}

func (noopReplier) CommandAccepted(context.Context, Command) {}
func (noopReplier) CommandFinished(context.Context, Command) {}

type noopStatusSink struct{}

func (noopStatusSink) PublishStatus(context.Context, StatusUpdate) {}

type noopNotifier struct{}

func (noopNotifier) DeviceDiscovered(context.Context, Discovery) {}
