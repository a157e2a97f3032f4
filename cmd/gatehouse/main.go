// Gatehouse Core - Identity and Authorisation Service
//
// This is the main entry point for the Gatehouse Core application.
// Gatehouse provides the identity backbone for a deployment:
//   - Credential verification and account lockout
//   - Access/refresh token issuance and rotation
//   - Role hierarchy and permission-claim authorisation
//   - Security event fan-out and metrics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/marldon/gatehouse-core/migrations"

	"github.com/marldon/gatehouse-core/internal/audit"
	"github.com/marldon/gatehouse-core/internal/auth"
	"github.com/marldon/gatehouse-core/internal/infrastructure/config"
	"github.com/marldon/gatehouse-core/internal/infrastructure/database"
	"github.com/marldon/gatehouse-core/internal/infrastructure/influxdb"
	"github.com/marldon/gatehouse-core/internal/infrastructure/logging"
	"github.com/marldon/gatehouse-core/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gatehouse Core",
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

	// Connect to MQTT broker (optional, security event fan-out)
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
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional, auth metrics)
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

	// Assemble the auth service
	svcCfg := auth.ServiceConfig{
		Users:              auth.NewSQLiteUserRepository(db.DB),
		Roles:              auth.NewSQLiteRoleRepository(db.DB),
		Tokens:             auth.NewSQLiteTokenStore(db.DB),
		Issuer:             auth.NewTokenIssuer(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.Audience, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL()),
		Audit:              audit.NewRepository(db.DB),
		Logger:             log.Logger,
		CacheTTL:           cfg.CacheTTL(),
		CacheMaxEntries:    cfg.Auth.Cache.MaxEntries,
		LockoutMaxFailures: cfg.Auth.Lockout.MaxFailures,
		LockoutWindow:      cfg.LockoutWindow(),
	}
	// Interface-typed fields must stay nil when the clients are absent;
	// assigning a nil *Client directly would produce a non-nil interface.
	if mqttClient != nil {
		svcCfg.Events = mqttClient
	}
	if influxClient != nil {
		svcCfg.Metrics = influxClient
	}
	svc := auth.NewService(svcCfg)
	log.Info("auth service initialised")

	// Seed built-in roles and the bootstrap administrator
	if seedErr := svc.Seed(ctx, cfg.Auth.Bootstrap.AdminUsername, cfg.Auth.Bootstrap.AdminPassword); seedErr != nil {
		return fmt.Errorf("seeding identity data: %w", seedErr)
	}
	log.Info("identity data seeded")

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Sweep refresh tokens that expired while the service was down.
	// Ongoing cleanup is the operator's call via the same operation;
	// there is no background scheduler.
	if purged, purgeErr := svc.PurgeExpiredTokens(ctx); purgeErr != nil {
		log.Warn("expired token sweep failed", "error", purgeErr)
	} else if purged > 0 {
		log.Info("expired refresh tokens purged", "count", purged)
	}
	if influxClient != nil {
		influxClient.RecordCacheStats(svc.CacheLen())
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT (if enabled)
	// 3. Database

	log.Info("Gatehouse Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GATEHOUSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATEHOUSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
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
