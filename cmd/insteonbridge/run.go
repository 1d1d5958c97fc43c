package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-insteon/internal/api"
	"github.com/nerrad567/gray-logic-insteon/internal/audit"
	"github.com/nerrad567/gray-logic-insteon/internal/auth"
	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
	"github.com/nerrad567/gray-logic-insteon/internal/device"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-insteon/internal/metrics"
	"github.com/nerrad567/gray-logic-insteon/migrations"
)

// pruneInterval is how often expired history rows are deleted.
const pruneInterval = time.Hour

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Insteon bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	stateHistory := device.NewSQLiteStateHistoryRepository(db.DB)
	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	deviceRegistry.SetHistory(stateHistory)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	commandLog := audit.NewSQLiteRepository(db.DB)

	seen := device.NewSeenRecorder(db.DB)
	seen.SetLogger(log)
	if startErr := seen.Start(); startErr != nil {
		return fmt.Errorf("starting seen device recorder: %w", startErr)
	}
	defer seen.Stop()

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if retention := cfg.GetHistoryRetention(); retention > 0 {
		go pruneLoop(ctx, retention, log,
			pruneTarget{name: "state history", prune: stateHistory.PruneHistory},
			pruneTarget{name: "command log", prune: commandLog.Prune},
		)
	}

	if !cfg.Insteon.Enabled {
		log.Info("Insteon bridge disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bridgeMetrics, err := metrics.NewBridge(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	bridge, err := startBridge(ctx, cfg, bridgeOptions{
		mqtt:     mqttClient,
		registry: deviceRegistry,
		seen:     seen,
		commands: commandLog,
		influx:   influxClient,
		metrics:  bridgeMetrics,
		log:      log,
	})
	if err != nil {
		return fmt.Errorf("starting Insteon bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Insteon bridge")
		bridge.Stop()
	}()

	if err := metrics.RegisterGauges(registry, bridge, deviceRegistry.GetDeviceCount); err != nil {
		return fmt.Errorf("registering gauges: %w", err)
	}
	if err := metrics.RegisterInterfaces(registry, interfaceHealth{bridge: bridge}); err != nil {
		return fmt.Errorf("registering interface metrics: %w", err)
	}

	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Bridge:   bridge,
			Devices:  deviceRegistry,
			History:  stateHistory,
			Commands: commandLog,
			Seen:     seen,
			Events:   mqttClient,
			Gatherer: registry,
			Checks:   checks,
			Version:  version,
		}
		if cfg.API.Auth.Enabled {
			authenticator, authErr := newAuthenticator(cfg)
			if authErr != nil {
				return fmt.Errorf("configuring API auth: %w", authErr)
			}
			deps.Auth = authenticator
			log.Info("API authentication enabled", "users", len(cfg.API.Auth.Users))
		} else {
			log.Warn("API authentication disabled")
		}

		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		case <-reload:
			reloadBridge(ctx, cfg.Insteon.ConfigFile, bridge, log)
		}
	}
}

// bridgeOptions carries the shared infrastructure startBridge wires in.
type bridgeOptions struct {
	mqtt     *mqtt.Client
	registry *device.Registry
	seen     *device.SeenRecorder
	commands *audit.SQLiteRepository
	influx   *influxdb.Client
	metrics  insteon.Metrics
	log      *logging.Logger
}

// startBridge loads the Insteon configuration, opens the interfaces and
// starts the bridge.
func startBridge(ctx context.Context, cfg *config.Config, opts bridgeOptions) (*insteon.Bridge, error) {
	insteonCfg, err := insteon.LoadConfig(cfg.Insteon.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("loading Insteon config: %w", err)
	}
	opts.log.Info("Insteon config loaded",
		"path", cfg.Insteon.ConfigFile,
		"interfaces", len(insteonCfg.Interfaces),
		"devices", len(insteonCfg.Devices),
	)

	mqttAdapter := &mqttBridgeAdapter{client: opts.mqtt}

	interfaces, err := insteon.OpenInterfaces(insteonCfg, mqttAdapter, opts.log)
	if err != nil {
		return nil, fmt.Errorf("opening interfaces: %w", err)
	}

	bridgeOpts := insteon.BridgeOptions{
		Config:     insteonCfg,
		GatewayID:  cfg.Gateway.ID,
		MQTTClient: mqttAdapter,
		Interfaces: interfaces,
		Registry:   &registryAdapter{registry: opts.registry, log: opts.log},
		Recorder:   seenAdapter{seen: opts.seen},
		CommandLog: commandLogAdapter{log: opts.commands},
		Metrics:    opts.metrics,
		Logger:     opts.log,
		Version:    version,
	}
	// A nil *influxdb.Client must not become a non-nil interface.
	if opts.influx != nil {
		bridgeOpts.History = opts.influx
	}

	bridge, err := insteon.NewBridge(bridgeOpts)
	if err != nil {
		closeInterfaces(interfaces)
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	opts.log.Info("Insteon bridge started", "active_interface", bridge.Health().ActiveInterface)

	return bridge, nil
}

// reloadBridge re-reads the Insteon configuration on SIGHUP. A bad file is
// logged and the running configuration kept.
func reloadBridge(ctx context.Context, path string, bridge *insteon.Bridge, log *logging.Logger) {
	log.Info("reloading Insteon config", "path", path)
	insteonCfg, err := insteon.LoadConfig(path)
	if err != nil {
		log.Error("Insteon config reload failed, keeping current config", "error", err)
		return
	}
	if err := bridge.Reload(ctx, insteonCfg); err != nil {
		log.Error("Insteon bridge reload failed", "error", err)
		return
	}
	log.Info("Insteon config reloaded", "devices", len(insteonCfg.Devices))
}

// newAuthenticator builds the API authenticator from configured users.
func newAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	users := make([]auth.User, 0, len(cfg.API.Auth.Users))
	for _, u := range cfg.API.Auth.Users {
		users = append(users, auth.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         auth.Role(u.Role),
		})
	}
	return auth.NewAuthenticator(auth.Options{
		Users:    users,
		Secret:   cfg.API.Auth.JWTSecret,
		TokenTTL: cfg.GetAccessTokenTTL(),
	})
}

// validateConfig loads both configuration files without connecting to
// anything and returns a one-line summary.
func validateConfig(configPath string) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Enabled && cfg.API.Auth.Enabled {
		if _, err := newAuthenticator(cfg); err != nil {
			return "", fmt.Errorf("api.auth: %w", err)
		}
	}
	if !cfg.Insteon.Enabled {
		return fmt.Sprintf("configuration OK: gateway %s, Insteon bridge disabled", cfg.Gateway.ID), nil
	}

	insteonCfg, err := insteon.LoadConfig(cfg.Insteon.ConfigFile)
	if err != nil {
		return "", fmt.Errorf("loading Insteon config: %w", err)
	}

	enabled := 0
	for _, ic := range insteonCfg.Interfaces {
		if ic.IsEnabled() {
			enabled++
		}
	}
	return fmt.Sprintf("configuration OK: gateway %s, %d interface(s) enabled, %d device(s)",
		cfg.Gateway.ID, enabled, len(insteonCfg.Devices)), nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// pruneTarget is a store with rows older than the retention window.
type pruneTarget struct {
	name  string
	prune func(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop deletes rows older than retention from every target, once at
// startup and then hourly, until ctx is cancelled.
func pruneLoop(ctx context.Context, retention time.Duration, log *logging.Logger, targets ...pruneTarget) {
	prune := func() {
		for _, target := range targets {
			n, err := target.prune(ctx, retention)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("prune failed", "target", target.name, "error", err)
				}
				continue
			}
			if n > 0 {
				log.Info("pruned expired rows", "target", target.name, "rows", n, "retention", retention)
			}
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
