package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-insteon/internal/audit"
	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
	"github.com/nerrad567/gray-logic-insteon/internal/device"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the subset of *insteon.Bridge the API drives.
type Bridge interface {
	SubmitCommand(ctx context.Context, requestID, deviceID, label string, level *float64, requester string) (insteon.Command, error)
	Command(requestID string) (insteon.Command, error)
	Interfaces() []insteon.InterfaceStatus
	SelectInterface() string
	Health() insteon.HealthMessage
	GetMetrics() insteon.BridgeMetrics
}

// DeviceStore is the subset of *device.Registry the API reads.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	GetStats() device.Stats
}

// HistoryReader returns recorded state changes for a device.
type HistoryReader interface {
	GetHistory(ctx context.Context, deviceID string, limit int) ([]device.StateHistoryEntry, error)
}

// CommandLog lists finalized commands after the tracker has forgotten them.
type CommandLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// SeenStore lists and forgets addresses heard on the bus.
type SeenStore interface {
	List(ctx context.Context) ([]device.SeenDevice, error)
	Forget(ctx context.Context, address string) error
}

// EventSource delivers MQTT messages for the WebSocket relay.
// *mqtt.Client satisfies it.
type EventSource interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// HealthChecker is implemented by infrastructure clients that can report
// their own health (database, MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Bridge   Bridge
	Devices  DeviceStore
	History  HistoryReader // optional
	Commands CommandLog    // optional
	Seen     SeenStore     // optional
	Events   EventSource   // optional; the WebSocket stream is idle without it
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthChecker
	Auth     Authenticator // optional; nil leaves the API open
	Version  string
}

// Server is the HTTP API server for the Insteon bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    Bridge
	devices   DeviceStore
	history   HistoryReader
	commands  CommandLog
	seen      SeenStore
	events    EventSource
	gatherer  prometheus.Gatherer
	checks    map[string]HealthChecker
	auth      Authenticator
	version   string
	startedAt time.Time
	server    *http.Server
	hub       *eventHub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		devices:   deps.Devices,
		history:   deps.History,
		commands:  deps.Commands,
		seen:      deps.Seen,
		events:    deps.Events,
		gatherer:  gatherer,
		checks:    deps.Checks,
		auth:      deps.Auth,
		version:   deps.Version,
		startedAt: time.Now(),
	}
	s.hub = newEventHub(deps.Logger)
	return s, nil
}

// Start subscribes the WebSocket relay and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.run(srvCtx)

	if err := s.subscribeEvents(); err != nil {
		s.logger.Warn("failed to subscribe to bridge events for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}
