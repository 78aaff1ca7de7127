// Warden Core - Device Command & Telemetry Correlation Subsystem
//
// This is the main entry point for the Warden Core application.
// Warden Core supervises physical access-control devices (doors,
// barriers, sensors, cameras) across multi-tenant communities:
//   - Command dispatch with correlation and timeout settlement
//   - Telemetry ingestion, threshold alerting and history
//   - Access event logging and security alerting
//   - Per-tenant real-time event streams
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/wardenhq/warden-core/migrations"

	"github.com/wardenhq/warden-core/internal/api"
	"github.com/wardenhq/warden-core/internal/audit"
	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
	"github.com/wardenhq/warden-core/internal/gateway"
	"github.com/wardenhq/warden-core/internal/infrastructure/config"
	"github.com/wardenhq/warden-core/internal/infrastructure/database"
	"github.com/wardenhq/warden-core/internal/infrastructure/influxdb"
	"github.com/wardenhq/warden-core/internal/infrastructure/logging"
	"github.com/wardenhq/warden-core/internal/infrastructure/mqtt"
	"github.com/wardenhq/warden-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Local cancel so fatal infrastructure failures (e.g. the broker link
	// dying for good) can trigger the same shutdown path as a signal.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Warden Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	commandRepo := command.NewSQLiteRepository(db.DB)
	snapshotRepo := telemetry.NewSQLiteRepository(db.DB)
	accessRepo := audit.NewSQLiteAccessRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Device registry
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	// Connect to MQTT broker
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

	// Connect to InfluxDB (optional telemetry history)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled, telemetry history will not be recorded")
	}

	// The hub is shared: the API server serves its WebSocket clients and
	// the gateway uses it as the tenant emitter.
	hub := api.NewHub(cfg.WebSocket, log)

	// Device gateway
	gwOpts := gateway.Options{
		Config:     cfg,
		Broker:     mqttClient,
		Registry:   registry,
		Commands:   commandRepo,
		Snapshots:  snapshotRepo,
		AccessLogs: accessRepo,
		AuditLogs:  auditRepo,
		Emitter:    hub,
		Logger:     log,
	}
	if influxClient != nil {
		gwOpts.History = influxClient
	}
	gw, err := gateway.NewDeviceGateway(gwOpts)
	if err != nil {
		return fmt.Errorf("creating device gateway: %w", err)
	}
	if startErr := gw.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device gateway: %w", startErr)
	}
	defer func() {
		log.Info("stopping device gateway")
		gw.Stop()
	}()
	log.Info("device gateway started")

	// Refresh device liveness every time the broker (re)connects.
	mqttClient.SetOnConnect(gw.OnBrokerConnect)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	// Fires when reconnection attempts are exhausted and the client has
	// torn the connection down for good. A gateway without a broker link
	// is useless, so shut the whole process down.
	mqttClient.SetOnError(func(err error) {
		log.Error("MQTT connection lost permanently, shutting down", "error", err)
		cancel()
	})

	// API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Dispatcher: gw,
		Devices:    registry,
		Commands:   commandRepo,
		Snapshots:  snapshotRepo,
		AccessLogs: accessRepo,
		AuditLogs:  auditRepo,
		Version:    version,
		Hub:        hub,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting api server: %w", startErr)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Device gateway
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Warden Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WARDEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
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
