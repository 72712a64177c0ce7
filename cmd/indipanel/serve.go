package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nerrad567/indi-panel/internal/api"
	"github.com/nerrad567/indi-panel/internal/audit"
	"github.com/nerrad567/indi-panel/internal/capture"
	"github.com/nerrad567/indi-panel/internal/indi"
	"github.com/nerrad567/indi-panel/internal/indiserver"
	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
	"github.com/nerrad567/indi-panel/internal/infrastructure/database"
	"github.com/nerrad567/indi-panel/internal/infrastructure/influxdb"
	"github.com/nerrad567/indi-panel/internal/infrastructure/logging"
	"github.com/nerrad567/indi-panel/internal/infrastructure/metrics"
	"github.com/nerrad567/indi-panel/internal/infrastructure/mqtt"
	"github.com/nerrad567/indi-panel/internal/relay"
	"github.com/nerrad567/indi-panel/migrations"
)

// startupCheckTimeout bounds the initial health checks.
const startupCheckTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the INDI bridge and HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

// runServe wires the engine, its optional sinks, and the API, then blocks
// until ctx is cancelled. Deferred closes run in reverse order.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: --config value, may be empty
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting INDI Panel",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", path, "auth", cfg.AuthEnabled())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := metrics.NewEngine()
	if err := engineMetrics.Register(registry); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	health := make(map[string]api.HealthChecker)
	sinks := relay.Sinks{}

	var auditRepo audit.Repository
	var captureRepo capture.Repository
	if cfg.Database.Enabled {
		db, err := openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		auditRepo = audit.NewSQLiteRepository(db.DB)
		captures := capture.NewSQLiteRepository(db.DB)
		captureRepo = captures
		sinks.Captures = captures
		health["database"] = db
	} else {
		log.Info("database disabled, capture catalog and audit trail off")
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		sinks.MQTT = mqttClient
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		sinks.Telemetry = influxClient
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	defaultHost := cfg.INDI.DefaultHost
	if cfg.INDIServer.Enabled {
		sup := indiserver.New(serverConfig(cfg))
		sup.SetLogger(log.With("component", "indiserver"))
		if err := sup.Start(ctx); err != nil {
			return fmt.Errorf("starting indiserver: %w", err)
		}
		defer func() {
			//nolint:errcheck // Stop always returns nil
			sup.Stop()
		}()
		health["indiserver"] = sup
		defaultHost = "localhost"
	}

	if err := startupHealthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	sinks.Hub = hub

	events := relay.New(sinks, relay.DefaultQueueSize, log.With("component", "relay"))
	go events.Run(ctx)

	client := indi.NewClient(clientConfig(cfg.INDI))
	client.SetLogger(log.With("component", "indi"))
	client.SetNotifier(events)
	client.SetInstrumentation(engineMetrics)
	go client.Run(ctx)
	defer func() {
		//nolint:errcheck // Disconnect is idempotent and never fails
		client.Disconnect()
	}()

	if mqttClient != nil {
		err := mqttClient.Subscribe(mqtt.Topics{}.Command(), byte(cfg.MQTT.QoS), func(_ string, payload []byte) error {
			return client.SendRaw(ctx, string(payload))
		})
		if err != nil {
			log.Warn("subscribing to MQTT command topic failed", "error", err)
		}
	}

	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Engine:      client,
		Audit:       auditRepo,
		Captures:    captureRepo,
		Hub:         hub,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Health:      health,
		DefaultHost: defaultHost,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"images_dir", cfg.INDI.ImagesDir,
		"blob_framing", cfg.INDI.BLOBFraming,
		"api_read_timeout", cfg.GetReadTimeout(),
		"api_write_timeout", cfg.GetWriteTimeout(),
		"api_idle_timeout", cfg.GetIdleTimeout(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if n := events.Dropped(); n > 0 {
		log.Warn("events dropped during run", "count", n)
	}
	return nil
}

// openDatabase opens SQLite and applies embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS, ".")
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Path, "migrations_applied", applied)
	return db, nil
}

// clientConfig maps the indi config section onto engine settings.
func clientConfig(c config.INDIConfig) indi.Config {
	return indi.Config{
		Port:              c.Port,
		ConnectTimeout:    c.ConnectTimeout,
		ReadTimeout:       c.ReadTimeout,
		BLOBTimeout:       c.BLOBTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdlePollInterval:  c.IdlePollInterval,
		ImagesDir:         c.ImagesDir,
		BLOBFraming:       indi.BLOBFraming(c.BLOBFraming),
		MaxBLOBSize:       c.MaxBLOBSize,
		AutoGetProperties: c.AutoGetProperties,
		Pacing: indi.Pacing{
			AfterConnect:    c.Pacing.AfterConnect,
			BetweenCommands: c.Pacing.BetweenCommands,
		},
	}
}

// serverConfig maps the indiserver section; the server listens on indi.port.
func serverConfig(cfg *config.Config) indiserver.Config {
	s := cfg.INDIServer
	return indiserver.Config{
		Binary:       s.Binary,
		Port:         cfg.INDI.Port,
		Drivers:      s.Drivers,
		ExtraArgs:    s.ExtraArgs,
		Verbose:      s.Verbose,
		RestartDelay: s.RestartDelay,
		MaxRestarts:  s.MaxRestarts,
		ReadyTimeout: s.ReadyTimeout,
	}
}

// startupHealthCheck verifies every enabled dependency once.
func startupHealthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	for name, checker := range checks {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
