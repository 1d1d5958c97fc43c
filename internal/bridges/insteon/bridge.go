package insteon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// commandTimeout bounds a single Submit, including the modem echo.
	commandTimeout = 5 * time.Second

	// registryTimeout bounds registry writes made from inbound handlers.
	registryTimeout = 2 * time.Second
)

// MQTTClient is the MQTT surface used by the bridge and remote interfaces.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// DeviceRegistry resolves and persists devices.
// It is satisfied by *device.Registry via an adapter in main.go, and by
// StaticDirectory.
type DeviceRegistry interface {
	DeviceDirectory

	// GetDevice resolves a device by id.
	GetDevice(ctx context.Context, id string) (DeviceRef, bool)

	// SetDeviceState stores the latest confirmed state. source is the
	// requester credited with the change.
	SetDeviceState(ctx context.Context, id string, state map[string]any, source string) error

	// CreateDeviceIfNotExists seeds a device from bridge config. Existing
	// records are left alone.
	CreateDeviceIfNotExists(ctx context.Context, seed DeviceSeed) error
}

// DiscoveryRecorder persists unknown addresses for later commissioning.
type DiscoveryRecorder interface {
	RecordDiscovery(ctx context.Context, d Discovery) error
}

// HistoryWriter records levels and command outcomes as time series.
// Satisfied by *influxdb.Client.
type HistoryWriter interface {
	WriteLevel(deviceID, address string, level float64, source string, at time.Time)
	WriteCommandOutcome(deviceID, address, command, state string, latency time.Duration, at time.Time)
}

// BridgeOptions holds what a Bridge needs.
type BridgeOptions struct {
	Config *Config

	// GatewayID is the service gateway id; bridge.gateway_id overrides it.
	GatewayID string

	MQTTClient MQTTClient

	// Interfaces are the candidate interfaces, usually from OpenInterfaces.
	Interfaces []Interface

	// Registry is optional; a StaticDirectory built from Config is used
	// when nil.
	Registry DeviceRegistry

	// Recorder is optional.
	Recorder DiscoveryRecorder

	// History is optional.
	History HistoryWriter

	// CommandLog is optional.
	CommandLog CommandLog

	// Metrics is optional.
	Metrics Metrics

	Logger  Logger
	Version string
}

// Bridge connects the command gateway to MQTT. It:
//   - receives commands on graylogic/command/insteon/# and submits them
//   - publishes accepted and terminal acks
//   - publishes confirmed device state and discovery announcements
//   - expires unconfirmed commands and optionally fails over interfaces
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	cfg   *Config
	cfgMu sync.RWMutex

	gatewayID string
	mqtt      MQTTClient
	registry  DeviceRegistry
	static    *StaticDirectory // set when Registry was nil
	recorder  DiscoveryRecorder
	history   HistoryWriter
	cmdLog    CommandLog
	metrics   Metrics

	tracker    *Tracker
	finished   *finishedCommands
	interfaces *InterfaceRegistry
	candidates []Interface
	reconciler *Reconciler
	gateway    *Gateway
	health     *HealthReporter

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}

	gatewayID := opts.Config.Bridge.GatewayID
	if gatewayID == "" {
		gatewayID = opts.GatewayID
	}
	if gatewayID == "" {
		return nil, errors.New("gateway id is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		gatewayID:  gatewayID,
		mqtt:       opts.MQTTClient,
		registry:   opts.Registry,
		recorder:   opts.Recorder,
		history:    opts.History,
		cmdLog:     opts.CommandLog,
		metrics:    opts.Metrics,
		tracker:    NewTracker(),
		finished:   newFinishedCommands(),
		interfaces: NewInterfaceRegistry(),
		candidates: opts.Interfaces,
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.metrics == nil {
		b.metrics = noopMetrics{}
	}
	if b.registry == nil {
		b.static = NewStaticDirectory(opts.Config.Seeds(gatewayID))
		b.registry = b.static
	}

	reconciler, err := NewReconciler(ReconcilerOptions{
		Tracker:  b.tracker,
		Devices:  b.registry,
		Config:   opts.Config.ReconcilerConfig(),
		Sink:     b,
		Replier:  b,
		Notifier: b,
		Metrics:  b.metrics,
		Logger:   b.logger,
	})
	if err != nil {
		ctxCancel()
		return nil, err
	}
	b.reconciler = reconciler

	gateway, err := NewGateway(GatewayOptions{
		GatewayID:  gatewayID,
		Tracker:    b.tracker,
		Interfaces: b.interfaces,
		Reconciler: reconciler,
		Replier:    b,
		Metrics:    b.metrics,
		Logger:     b.logger,
	})
	if err != nil {
		ctxCancel()
		return nil, err
	}
	b.gateway = gateway

	for _, iface := range opts.Interfaces {
		if err := b.interfaces.Register(iface); err != nil {
			ctxCancel()
			return nil, err
		}
		iface.Attach(gateway)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.Config.Bridge.ID,
		Version:    opts.Version,
		Interval:   opts.Config.GetHealthInterval(),
		Publisher:  opts.MQTTClient,
		Interfaces: b.interfaces,
		Tracker:    b.tracker,
	})
	b.health.SetLogger(b.logger)

	return b, nil
}

// starter is implemented by interfaces that subscribe to something before
// they can report status.
type starter interface {
	Start() error
}

// Start seeds the device registry, starts interfaces, selects the active
// interface and subscribes to commands.
func (b *Bridge) Start(ctx context.Context) error {
	b.seedRegistry(ctx)

	if err := b.health.PublishStarting(); err != nil {
		b.log().Error("failed to publish starting status", "error", err)
	}

	for _, iface := range b.candidates {
		s, ok := iface.(starter)
		if !ok {
			continue
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("starting interface %s: %w", iface.Name(), err)
		}
	}

	b.selectActive()

	topic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.log().Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.sweepLoop()

	b.log().Info("bridge started",
		"bridge_id", b.config().Bridge.ID,
		"gateway_id", b.gatewayID,
		"interfaces", len(b.candidates),
	)
	return nil
}

// Stop shuts the bridge down and closes interfaces that hold resources.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		for _, iface := range b.candidates {
			if c, ok := iface.(io.Closer); ok {
				if err := c.Close(); err != nil {
					b.log().Warn("error closing interface", "interface", iface.Name(), "error", err)
				}
			}
		}

		b.log().Info("bridge stopped")
	})
}

// Reload applies a new configuration: reconciliation tables, device seeds
// and active interface selection. Interface definitions are read only at
// startup.
func (b *Bridge) Reload(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := b.reconciler.Configure(cfg.ReconcilerConfig()); err != nil {
		return err
	}

	b.cfgMu.Lock()
	b.cfg = cfg
	b.cfgMu.Unlock()

	if b.static != nil {
		b.static.Replace(cfg.Seeds(b.gatewayID))
	} else {
		b.seedRegistry(ctx)
	}

	b.selectActive()
	b.log().Info("bridge configuration reloaded", "devices", len(cfg.Devices))
	return nil
}

// SetLogger replaces the logger.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.gateway.SetLogger(logger)
	b.health.SetLogger(logger)
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) config() *Config {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg
}

func (b *Bridge) seedRegistry(ctx context.Context) {
	if b.static != nil {
		return
	}
	for _, seed := range b.config().Seeds(b.gatewayID) {
		if err := b.registry.CreateDeviceIfNotExists(ctx, seed); err != nil {
			b.log().Warn("failed to seed device", "device_id", seed.ID, "error", err)
		}
	}
}

// selectActive recomputes the active interface and logs changes.
func (b *Bridge) selectActive() {
	var previous string
	if active, ok := b.interfaces.Active(); ok {
		previous = active.Name()
	}

	active, ok := b.interfaces.SelectActive()
	switch {
	case !ok:
		if previous != "" || len(b.candidates) > 0 {
			b.log().Warn("no healthy interface available", "previous", previous)
		}
	case active.Name() != previous:
		b.log().Info("active interface selected",
			"interface", active.Name(),
			"priority", active.Priority(),
			"previous", previous,
		)
	}
}

func (b *Bridge) sweepLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config().GetSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

// sweep expires unconfirmed commands, prunes finished ones and, when
// enabled, reselects the active interface.
func (b *Bridge) sweep() {
	cfg := b.config()

	b.gateway.ExpireStale(b.ctx, cfg.GetCommandTTL())
	if pruned := b.finished.prune(cfg.GetRetention()); pruned > 0 {
		b.log().Debug("pruned finished commands", "count", pruned)
	}

	if cfg.Bridge.AutoFailover {
		b.selectActive()
	}
}

// handleCommand processes a command message from MQTT.
// Topic: graylogic/command/insteon/{address}
func (b *Bridge) handleCommand(topic string, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log().Error("failed to parse command", "topic", topic, "error", err)
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	topicAddress := topic[strings.LastIndex(topic, "/")+1:]

	b.log().Info("received command",
		"command_id", msg.ID,
		"device_id", msg.DeviceID,
		"address", topicAddress,
		"command", msg.Command,
	)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if _, err := b.submit(ctx, msg, topicAddress); err != nil {
		b.publishJSON(AckTopic(ackAddress(topicAddress)), NewAckRejected(msg, ackAddress(topicAddress), ErrorCode(err), err.Error()), false)
	}
}

// ackAddress normalizes a topic address for ack routing, keeping the raw
// value when it does not parse.
func ackAddress(address string) string {
	if normalized, err := NormalizeAddress(address); err == nil {
		return normalized
	}
	return address
}

// SubmitCommand resolves a device by id and submits a command to it. An
// empty requestID is generated.
func (b *Bridge) SubmitCommand(ctx context.Context, requestID, deviceID, label string, level *float64, requester string) (Command, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	msg := CommandMessage{
		ID:        requestID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Command:   label,
		Source:    requester,
	}
	if level != nil {
		msg.Parameters = map[string]any{"level": *level}
	}
	return b.submit(ctx, msg, "")
}

func (b *Bridge) submit(ctx context.Context, msg CommandMessage, address string) (Command, error) {
	device, err := b.resolveDevice(ctx, msg.DeviceID, address)
	if err != nil {
		b.metrics.CommandRejected(RejectNotConfigured)
		return Command{}, err
	}

	level, err := msg.Level()
	if err != nil {
		b.metrics.CommandRejected(RejectInvalid)
		return Command{}, err
	}

	return b.gateway.Submit(ctx, SubmitRequest{
		RequestID: msg.ID,
		Device:    device,
		Label:     msg.Command,
		Level:     level,
		Requester: msg.Source,
	})
}

// resolveDevice prefers the device id and falls back to the address.
func (b *Bridge) resolveDevice(ctx context.Context, deviceID, address string) (DeviceRef, error) {
	if deviceID != "" {
		if dev, ok := b.registry.GetDevice(ctx, deviceID); ok {
			return dev, nil
		}
		return DeviceRef{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	normalized, err := NormalizeAddress(address)
	if err != nil {
		return DeviceRef{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if dev, ok := b.registry.LookupAddress(ctx, normalized); ok {
		return dev, nil
	}
	return DeviceRef{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, normalized)
}

// CommandAccepted implements Replier.
func (b *Bridge) CommandAccepted(_ context.Context, cmd Command) {
	b.publishJSON(AckTopic(cmd.Address), NewAckAccepted(cmd), false)
}

// CommandFinished implements Replier.
func (b *Bridge) CommandFinished(ctx context.Context, cmd Command) {
	b.finished.add(cmd)
	b.publishJSON(AckTopic(cmd.Address), NewAckFinal(cmd), false)

	if b.history != nil {
		b.history.WriteCommandOutcome(cmd.DeviceID, cmd.Address, cmd.Label, cmd.State.String(), cmd.Latency(), cmd.FinalizedAt)
	}

	if b.cmdLog != nil {
		logCtx, cancel := context.WithTimeout(ctx, registryTimeout)
		if err := b.cmdLog.RecordCommand(logCtx, cmd); err != nil {
			b.log().Warn("failed to record command outcome", "request_id", cmd.RequestID, "error", err)
		}
		cancel()
	}

	b.log().Info("command finished",
		"request_id", cmd.RequestID,
		"device_id", cmd.DeviceID,
		"state", cmd.State.String(),
		"message", cmd.Message,
		"latency", cmd.Latency(),
	)
}

// PublishStatus implements StatusSink.
func (b *Bridge) PublishStatus(ctx context.Context, u StatusUpdate) {
	msg := NewStateMessage(u)
	b.publishJSON(StateTopic(u.Device.Address), msg, true)

	regCtx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()
	if err := b.registry.SetDeviceState(regCtx, u.Device.ID, msg.State, u.Source); err != nil {
		b.log().Warn("failed to persist device state", "device_id", u.Device.ID, "error", err)
	}

	if b.history != nil {
		b.history.WriteLevel(u.Device.ID, u.Device.Address, u.Level, u.Source, u.ObservedAt)
	}
}

// DeviceDiscovered implements DiscoveryNotifier.
func (b *Bridge) DeviceDiscovered(ctx context.Context, d Discovery) {
	b.publishJSON(DiscoveryTopic(), NewDiscoveryMessage(b.config().Bridge.ID, d), false)

	if b.recorder != nil {
		if err := b.recorder.RecordDiscovery(ctx, d); err != nil {
			b.log().Warn("failed to record discovered device", "address", d.Address, "error", err)
		}
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log().Error("failed to encode message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.log().Error("failed to publish", "topic", topic, "error", err)
	}
}

// Command returns a command by request id: in flight, or finalized within
// the retention window.
func (b *Bridge) Command(requestID string) (Command, error) {
	if cmd, err := b.gateway.Command(requestID); err == nil {
		return cmd, nil
	}
	if cmd, ok := b.finished.get(requestID); ok {
		return cmd, nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrCommandNotFound, requestID)
}

// Interfaces returns a snapshot of every candidate interface.
func (b *Bridge) Interfaces() []InterfaceStatus {
	return b.interfaces.Status()
}

// SelectInterface forces a reselection and returns the active interface
// name, or "" if none is healthy.
func (b *Bridge) SelectInterface() string {
	b.selectActive()
	if active, ok := b.interfaces.Active(); ok {
		return active.Name()
	}
	return ""
}

// PendingCommands returns the number of in-flight commands.
func (b *Bridge) PendingCommands() int {
	return b.tracker.InFlightCount()
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Snapshot()
}

// BridgeMetrics contains metrics data for the API.
type BridgeMetrics struct {
	Connected       bool   `json:"connected"`
	Status          string `json:"status"`
	ActiveInterface string `json:"active_interface,omitempty"`
	PendingCommands int    `json:"pending_commands"`
	DoneCommands    int    `json:"done_commands"`
	FailedCommands  int    `json:"failed_commands"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	snap := b.health.Snapshot()
	done, failed := b.finished.counts()
	return BridgeMetrics{
		Connected:       b.mqtt.IsConnected(),
		Status:          string(snap.Status),
		ActiveInterface: snap.ActiveInterface,
		PendingCommands: b.tracker.InFlightCount(),
		DoneCommands:    done,
		FailedCommands:  failed,
	}
}
