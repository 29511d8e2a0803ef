package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MIRChain/mir-control-center/internal/api"
	"github.com/MIRChain/mir-control-center/internal/audit"
	"github.com/MIRChain/mir-control-center/internal/bridge"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/config"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/database"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/influxdb"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/logging"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/mqtt"
	"github.com/MIRChain/mir-control-center/internal/plugin"
)

const (
	// shutdownTimeout bounds how long running plugins get to stop.
	shutdownTimeout = 30 * time.Second

	// statsInterval is how often process statistics are written to InfluxDB.
	statsInterval = 30 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control center service",
		Long: `Run the control center: load plugin descriptors, connect the optional
MQTT and InfluxDB integrations and serve the local REST/WebSocket API until
interrupted. Running plugins are stopped on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe is the service lifecycle, separated from the command for
// testability. It returns nil on clean shutdown.
func runServe(ctx context.Context, opts *rootOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MIR Control Center",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
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

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	registry := newRegistry(cfg, db, defaultPrompter(cfg), log, "mircc")
	n, err := registry.LoadDir(cfg.Plugins.DescriptorDir)
	if err != nil {
		return fmt.Errorf("loading plugin descriptors: %w", err)
	}
	log.Info("plugins loaded", "dir", cfg.Plugins.DescriptorDir, "count", n)
	defer func() {
		log.Info("stopping plugins")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := registry.StopAll(stopCtx); stopErr != nil {
			log.Error("error stopping plugins", "error", stopErr)
		}
	}()

	if mqttClient != nil || influxClient != nil {
		b, bridgeErr := startBridge(ctx, cfg, registry, mqttClient, influxClient, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer func() {
			log.Info("stopping bridge")
			b.Stop()
		}()
	}

	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, registry, db, mqttClient, influxClient, log)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, plugins,
	// InfluxDB, MQTT, database.
	return nil
}

// connectMQTT connects to the broker when enabled. A nil client means MQTT
// is switched off.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects when enabled. A nil client means metrics are off.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// startBridge wires plugin events to MQTT and InfluxDB. Only non-nil clients
// are handed over so the bridge sees a nil interface for a missing sink.
func startBridge(ctx context.Context, cfg *config.Config, registry *plugin.Registry, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, error) {
	opts := bridge.Options{
		Registry:    registry,
		Logger:      log.Component("bridge"),
		PublishLogs: cfg.MQTT.PublishLogs,
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
		opts.StatsInterval = statsInterval
	}

	b, err := bridge.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	return b, nil
}

// startAPI starts the local HTTP API.
func startAPI(ctx context.Context, cfg *config.Config, registry *plugin.Registry, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Registry: registry,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db,
		MQTT:     mqttClient,
		Version:  version,
	}
	if influxClient != nil {
		deps.Metrics = influxClient
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
