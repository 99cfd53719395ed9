// Felshare Cloud Bridge
//
// This is the main entry point for the Felshare cloud bridge. It keeps a
// persistent session to the vendor cloud for one diffuser, mirrors the
// device's state locally, and exposes it to home automation over a REST
// and WebSocket API while strictly rate limiting everything sent back to
// the vendor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/devilrob/felshare-cloud/migrations"

	"github.com/devilrob/felshare-cloud/internal/api"
	"github.com/devilrob/felshare-cloud/internal/cloud"
	"github.com/devilrob/felshare-cloud/internal/hub"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/database"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/influxdb"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/mqtt"
	"github.com/devilrob/felshare-cloud/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Felshare cloud bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The WebSocket hub exists before the device hub so state changes
	// can be broadcast from the moment the first frame arrives.
	wsHub := api.NewWSHub(log)

	// Connection manager, created after the hub so its callbacks and
	// status feed can be wired; the hub only needs the status closure.
	var manager *cloud.Manager

	deps := hub.Deps{
		Store:         store.New(db),
		OnStateChange: wsHub.BroadcastState,
		ConnStatus: func() cloud.Status {
			if manager == nil {
				return cloud.Status{}
			}
			return manager.Status()
		},
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}

	deviceHub, err := hub.New(ctx, *cfg, deps, log)
	if err != nil {
		return fmt.Errorf("creating device hub: %w", err)
	}

	connector := mqtt.NewConnector(
		cfg.MQTT,
		cfg.Cloud.DeviceID,
		cfg.Cloud.FrontURL,
		cfg.HVACSync.ThermostatTopic,
		cfg.Throttle.EnableTemplateLearning,
		mqtt.Handlers{
			DeviceFrame: deviceHub.HandleDeviceFrame,
			AppTraffic:  deviceHub.HandleAppTraffic,
			Thermostat:  deviceHub.HandleThermostatPayload,
		},
		log,
	)
	deviceHub.SetPublisher(connector)

	manager = cloud.NewManager(cloud.NewClient(cfg.Cloud, log), connector, cfg.Cloud, log)
	manager.OnConnected = deviceHub.HandleConnected
	manager.OnDisconnected = deviceHub.HandleDisconnected

	go deviceHub.Run(ctx)
	go manager.Run(ctx)

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		Hub:        deviceHub,
		ExternalWS: wsHub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FELSHARE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FELSHARE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies local infrastructure is healthy. The cloud
// connection is deliberately excluded: the bridge is expected to start
// while the vendor cloud is unreachable and reconnect on its own.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
