package insteon

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// Publisher is the MQTT surface the bridge needs for outbound messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID   string
	Version    string
	Interval   time.Duration
	Publisher  Publisher
	Interfaces *InterfaceRegistry
	Tracker    *Tracker
}

// HealthReporter publishes retained bridge health on a fixed interval.
type HealthReporter struct {
	bridgeID   string
	version    string
	startTime  time.Time
	interval   time.Duration
	publisher  Publisher
	interfaces *InterfaceRegistry
	tracker    *Tracker

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:   cfg.BridgeID,
		version:    cfg.Version,
		startTime:  time.Now(),
		interval:   interval,
		publisher:  cfg.Publisher,
		interfaces: cfg.Interfaces,
		tracker:    cfg.Tracker,
		done:       make(chan struct{}),
		logger:     noopLogger{},
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// LWTPayload is the retained message the broker publishes if the bridge
// disappears without a clean shutdown.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(HealthMessage{
		Bridge:    h.bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	})
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus: no active interface is unhealthy; an MQTT outage or an
// active interface that has gone bad since selection is degraded.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.interfaces == nil {
		return HealthUnhealthy, "no interfaces configured"
	}

	active, ok := h.interfaces.Active()
	if !ok {
		return HealthUnhealthy, "no active interface"
	}
	if !active.Healthy() {
		return HealthDegraded, "active interface " + active.Name() + " unhealthy"
	}
	return HealthHealthy, ""
}

// Snapshot builds the health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.interfaces != nil {
		msg.Interfaces = h.interfaces.Status()
		if active, ok := h.interfaces.Active(); ok {
			msg.ActiveInterface = active.Name()
		}
	}
	if h.tracker != nil {
		msg.PendingCommands = h.tracker.InFlightCount()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}
