package main

import (
	"context"
	"errors"
	"io"

	"github.com/nerrad567/gray-logic-insteon/internal/audit"
	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
	"github.com/nerrad567/gray-logic-insteon/internal/device"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-insteon/internal/metrics"
)

// mqttSubscriber is the part of *mqtt.Client the bridge adapter needs.
type mqttSubscriber interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// infrastructure handlers return an error, bridge handlers do not.
type mqttBridgeAdapter struct {
	client mqttSubscriber
}

// Publish implements insteon.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements insteon.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements insteon.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// registryAdapter exposes the device registry as an insteon.DeviceRegistry.
type registryAdapter struct {
	registry *device.Registry
	log      device.Logger
}

// LookupAddress implements insteon.DeviceDirectory.
func (a *registryAdapter) LookupAddress(ctx context.Context, address string) (insteon.DeviceRef, bool) {
	dev, err := a.registry.GetDeviceByAddress(ctx, address)
	if err != nil {
		if !errors.Is(err, device.ErrDeviceNotFound) {
			a.log.Warn("device lookup by address failed", "address", address, "error", err)
		}
		return insteon.DeviceRef{}, false
	}
	return deviceRef(dev), true
}

// GetDevice implements insteon.DeviceRegistry.
func (a *registryAdapter) GetDevice(ctx context.Context, id string) (insteon.DeviceRef, bool) {
	dev, err := a.registry.GetDevice(ctx, id)
	if err != nil {
		if !errors.Is(err, device.ErrDeviceNotFound) {
			a.log.Warn("device lookup failed", "device_id", id, "error", err)
		}
		return insteon.DeviceRef{}, false
	}
	return deviceRef(dev), true
}

// SetDeviceState implements insteon.DeviceRegistry.
func (a *registryAdapter) SetDeviceState(ctx context.Context, id string, state map[string]any, source string) error {
	return a.registry.SetDeviceState(ctx, id, device.State(state), source)
}

// CreateDeviceIfNotExists implements insteon.DeviceRegistry. Seeds without a
// name are named after their id.
func (a *registryAdapter) CreateDeviceIfNotExists(ctx context.Context, seed insteon.DeviceSeed) error {
	name := seed.Name
	if name == "" {
		name = seed.ID
	}
	created, err := a.registry.CreateDeviceIfNotExists(ctx, &device.Device{
		ID:        seed.ID,
		Name:      name,
		Type:      seed.Type,
		Address:   seed.Address,
		GatewayID: seed.GatewayID,
	})
	if err != nil {
		return err
	}
	if created {
		a.log.Info("seeded device from Insteon config", "device_id", seed.ID, "address", seed.Address)
	}
	return nil
}

func deviceRef(dev *device.Device) insteon.DeviceRef {
	ref := insteon.DeviceRef{
		ID:        dev.ID,
		Name:      dev.Name,
		Address:   dev.Address,
		Type:      dev.Type,
		GatewayID: dev.GatewayID,
	}
	if level, ok := dev.State.Level(); ok {
		ref.LastLevel = &level
	}
	return ref
}

// seenRecorder is the part of *device.SeenRecorder the discovery adapter needs.
type seenRecorder interface {
	Record(ctx context.Context, address string, rawLevel float64, iface string) error
}

// seenAdapter persists discoveries to the seen device table.
type seenAdapter struct {
	seen seenRecorder
}

// RecordDiscovery implements insteon.DiscoveryRecorder.
func (a seenAdapter) RecordDiscovery(ctx context.Context, d insteon.Discovery) error {
	return a.seen.Record(ctx, d.Address, d.RawLevel, d.Interface)
}

// commandRecorder is the part of the audit repository the bridge writes to.
type commandRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// commandLogAdapter turns finalized bridge commands into command log entries.
type commandLogAdapter struct {
	log commandRecorder
}

// RecordCommand implements insteon.CommandLog.
func (a commandLogAdapter) RecordCommand(ctx context.Context, cmd insteon.Command) error {
	return a.log.Record(ctx, &audit.Entry{
		RequestID:   cmd.RequestID,
		DeviceID:    cmd.DeviceID,
		Address:     cmd.Address,
		Command:     cmd.Label,
		Level:       cmd.Level,
		Requester:   cmd.Requester,
		State:       cmd.State.String(),
		Message:     cmd.Message,
		Interface:   cmd.Interface,
		TimedOut:    cmd.TimedOut,
		LatencyMS:   cmd.Latency().Milliseconds(),
		CreatedAt:   cmd.CreatedAt,
		FinalizedAt: cmd.FinalizedAt,
	})
}

// interfaceStatusSource is the part of *insteon.Bridge interfaceHealth reads.
type interfaceStatusSource interface {
	Interfaces() []insteon.InterfaceStatus
}

// interfaceHealth feeds interface status to the Prometheus collector.
type interfaceHealth struct {
	bridge interfaceStatusSource
}

// InterfaceHealth implements metrics.InterfaceSource.
func (s interfaceHealth) InterfaceHealth() map[string]metrics.InterfaceState {
	statuses := s.bridge.Interfaces()
	out := make(map[string]metrics.InterfaceState, len(statuses))
	for _, st := range statuses {
		out[st.Name] = metrics.InterfaceState{Healthy: st.Healthy, Active: st.Active}
	}
	return out
}

// closeInterfaces releases interfaces opened before a failed bridge start.
func closeInterfaces(interfaces []insteon.Interface) {
	for _, iface := range interfaces {
		if c, ok := iface.(io.Closer); ok {
			c.Close() //nolint:errcheck // unwinding after a failed start
		}
	}
}
