// OnPass socket gateway.
//
// Receives credential scans from door readers over WebSocket, HTTP or
// MQTT, asks the OnPass backend whether to open, and drives the reader's
// relay and screen accordingly. Results are broadcast to real-time
// clients and optionally kept in SQLite, InfluxDB and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jmuc-msm/onpass-socket/migrations"

	"github.com/jmuc-msm/onpass-socket/internal/access"
	"github.com/jmuc-msm/onpass-socket/internal/api"
	"github.com/jmuc-msm/onpass-socket/internal/audit"
	"github.com/jmuc-msm/onpass-socket/internal/backend"
	"github.com/jmuc-msm/onpass-socket/internal/device"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/database"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/influxdb"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/logging"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/mqtt"
	"github.com/jmuc-msm/onpass-socket/internal/metrics"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// drainTimeout bounds how long shutdown waits for scans in progress.
	drainTimeout = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the gateway and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting onpass gateway", "version", version, "commit", commit, "build_date", date)

	cfg, source, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "source", source)

	log = logging.New(cfg.Logging, version)
	metrics.Init(version)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.Access.Timezone, err)
	}

	var recorders []access.Recorder
	checks := map[string]api.HealthChecker{}

	// Audit store (optional)
	var auditRepo *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, openErr := database.Open(cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
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
		log.Info("database ready", "path", db.Path())

		auditRepo = audit.NewSQLiteRepository(db.DB, log)
		recorders = append(recorders, auditRepo)
		checks["database"] = db
	} else {
		log.Info("audit store disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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

		recorders = append(recorders, influxRecorder{client: influxClient})
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		recorders = append(recorders, mqttRecorder{client: mqttClient, logger: log})
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Access pipeline
	sender := device.NewSender(cfg.Device, nil)
	hub := api.NewHub(cfg.WebSocket, log)
	processor, err := access.NewProcessor(access.Deps{
		Authorizer:     backend.New(cfg.Backend, nil),
		Commander:      sender,
		Activator:      access.NewActivator(sender, access.ActivatorConfigFrom(cfg.Access, loc), log),
		Broadcaster:    hub,
		Recorders:      recorders,
		SuccessMessage: cfg.Access.SuccessMessage,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating access processor: %w", err)
	}
	hub.SetAccess(processor)
	go hub.Run(ctx)

	scanTopic := mqtt.Topics{}.AllDeviceEvents()
	if mqttClient != nil {
		if subErr := mqttClient.Subscribe(scanTopic, byte(cfg.MQTT.QoS), scanHandler(processor, log)); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", scanTopic, subErr)
		}
		log.Info("listening for MQTT scan events", "topic", scanTopic)
	}

	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Access:      processor,
		Checks:      checks,
		ExternalHub: hub,
		Version:     version,
	}
	if auditRepo != nil {
		deps.Audit = auditRepo
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("onpass gateway started", "backend", cfg.Backend.BaseURL)

	<-ctx.Done()
	log.Info("shutdown signal received")

	if mqttClient != nil {
		if err := mqttClient.Unsubscribe(scanTopic); err != nil {
			log.Warn("failed to stop MQTT scan input", "topic", scanTopic, "error", err)
		}
	}
	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := processor.Wait(drainCtx); err != nil {
		log.Warn("scans still in progress at shutdown", "in_flight", processor.InFlight(), "error", err)
	}
	if err := hub.Wait(drainCtx); err != nil {
		log.Warn("websocket requests still running at shutdown", "error", err)
	}

	log.Info("onpass gateway stopped")
	return nil
}

// loadConfig reads ONPASS_CONFIG, or the default path when it exists.
// Without a file the configuration comes from the environment alone.
func loadConfig() (*config.Config, string, error) {
	if path := os.Getenv("ONPASS_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := config.Load(defaultConfigPath)
		return cfg, defaultConfigPath, err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("checking %s: %w", defaultConfigPath, err)
	}
	cfg, err := config.LoadEnv()
	return cfg, "environment", err
}
