package insteon

import (
	"errors"
	"fmt"
	"time"
)

// Protocol is the protocol segment used in every topic.
const Protocol = "insteon"

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandMessage asks the bridge to command a device.
// Topic: graylogic/command/insteon/{address}
type CommandMessage struct {
	// ID correlates acks and replies. Generated when empty.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`

	// Command is the label, e.g. "on", "off_fast", "dim".
	Command string `json:"command"`

	// Parameters may carry {"level": 0-100} for on and dim.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source is who asked: "api", "automation", "scene", a user id...
	Source string `json:"source"`
}

// Level extracts the optional "level" parameter.
func (m CommandMessage) Level() (*float64, error) {
	raw, ok := m.Parameters["level"]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case float64:
		return &v, nil
	case int:
		f := float64(v)
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: level must be a number", ErrInvalidCommand)
	}
}

// AckStatus is the status carried by an AckMessage.
type AckStatus string

const (
	// AckAccepted: the command was sent to an interface; the outcome follows.
	AckAccepted AckStatus = "accepted"

	// AckDone: the device confirmed the command.
	AckDone AckStatus = "done"

	// AckFailed: the command was rejected or failed.
	AckFailed AckStatus = "failed"

	// AckTimeout: no confirmation arrived before the command expired.
	AckTimeout AckStatus = "timeout"
)

// AckMessage answers a command. One "accepted" ack is followed by exactly
// one terminal ack ("done", "failed" or "timeout"); rejected commands get a
// single "failed" ack.
// Topic: graylogic/ack/insteon/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`

	// DeviceStatus is the human-readable device state on success.
	DeviceStatus string `json:"device_status,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError carries failure details.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeNotMyDevice       = "NOT_MY_DEVICE"
	ErrCodeNoActiveInterface = "NO_ACTIVE_INTERFACE"
	ErrCodeUnhealthy         = "INTERFACE_UNHEALTHY"
	ErrCodeDuplicate         = "DUPLICATE_REQUEST"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeSendFailed        = "SEND_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
)

// ErrorCode maps a Submit error to an ack error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotMyDevice):
		return ErrCodeNotMyDevice
	case errors.Is(err, ErrNoActiveInterface):
		return ErrCodeNoActiveInterface
	case errors.Is(err, ErrInterfaceUnhealthy):
		return ErrCodeUnhealthy
	case errors.Is(err, ErrDuplicateRequestID):
		return ErrCodeDuplicate
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrInvalidAddress):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeNotConfigured
	default:
		return ErrCodeSendFailed
	}
}

// NewAckAccepted builds the "accepted" ack for a submitted command.
func NewAckAccepted(cmd Command) AckMessage {
	return AckMessage{
		CommandID: cmd.RequestID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Label,
		Status:    AckAccepted,
		Protocol:  Protocol,
		Address:   cmd.Address,
	}
}

// NewAckRejected builds the "failed" ack for a rejected command message.
func NewAckRejected(msg CommandMessage, address, code, message string) AckMessage {
	return AckMessage{
		CommandID: msg.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  msg.DeviceID,
		Command:   msg.Command,
		Status:    AckFailed,
		Protocol:  Protocol,
		Address:   address,
		Error:     &AckError{Code: code, Message: message},
	}
}

// NewAckFinal builds the terminal ack for a finalized command.
func NewAckFinal(cmd Command) AckMessage {
	ack := AckMessage{
		CommandID: cmd.RequestID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Label,
		Protocol:  Protocol,
		Address:   cmd.Address,
	}

	switch {
	case cmd.State == StateDone:
		ack.Status = AckDone
		ack.DeviceStatus = cmd.Message
	case cmd.TimedOut:
		ack.Status = AckTimeout
		ack.Error = &AckError{Code: ErrCodeTimeout, Message: cmd.Message}
	default:
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrCodeSendFailed, Message: cmd.Message}
	}
	return ack
}

// StateMessage publishes a device's confirmed state.
// Topic: graylogic/state/insteon/{address} (QoS 1, retained)
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`

	// Source is the requester whose command caused the change, or "external".
	Source    string `json:"source"`
	RequestID string `json:"request_id,omitempty"`
}

// NewStateMessage builds a StateMessage from a status update.
func NewStateMessage(u StatusUpdate) StateMessage {
	return StateMessage{
		DeviceID:  u.Device.ID,
		Timestamp: u.ObservedAt.UTC(),
		State: map[string]any{
			"on":     u.Label == LabelOn,
			"level":  u.Level,
			"status": u.Description,
		},
		Protocol:  Protocol,
		Address:   u.Device.Address,
		Source:    u.Source,
		RequestID: u.RequestID,
	}
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports bridge health.
// Topic: graylogic/health/insteon (QoS 1, retained)
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	ActiveInterface string            `json:"active_interface,omitempty"`
	Interfaces      []InterfaceStatus `json:"interfaces,omitempty"`
	PendingCommands int               `json:"pending_commands"`
	Reason          string            `json:"reason,omitempty"`
}

// DiscoveryMessage announces an address with no registered device.
// Topic: graylogic/discovery/insteon
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one unknown address.
type DiscoveredDevice struct {
	Protocol  string  `json:"protocol"`
	Address   string  `json:"address"`
	RawLevel  float64 `json:"raw_level"`
	Level     float64 `json:"level"`
	Interface string  `json:"interface,omitempty"`
}

// NewDiscoveryMessage builds a single-device discovery announcement.
func NewDiscoveryMessage(bridgeID string, d Discovery) DiscoveryMessage {
	return DiscoveryMessage{
		Timestamp: d.ObservedAt.UTC(),
		Bridge:    bridgeID,
		Devices: []DiscoveredDevice{{
			Protocol:  Protocol,
			Address:   d.Address,
			RawLevel:  d.RawLevel,
			Level:     d.Level,
			Interface: d.Interface,
		}},
	}
}

// CommandTopic returns graylogic/command/insteon/{address}.
func CommandTopic(address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, address)
}

// AckTopic returns graylogic/ack/insteon/{address}.
func AckTopic(address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, address)
}

// StateTopic returns graylogic/state/insteon/{address}.
func StateTopic(address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, address)
}

// HealthTopic returns graylogic/health/insteon.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// DiscoveryTopic returns graylogic/discovery/insteon.
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic matches every command topic.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}
