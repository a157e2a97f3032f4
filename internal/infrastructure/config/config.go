package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gatehouse Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig contains service identity settings.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AuthConfig contains credential and authorization settings.
type AuthConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Cache     CacheConfig     `yaml:"cache"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// BootstrapConfig contains the initial administrator credentials.
// Only consulted when the user table is empty; ignored afterwards.
type BootstrapConfig struct {
	// AdminUsername is the username of the bootstrap super administrator.
	AdminUsername string `yaml:"admin_username"`

	// AdminPassword is the bootstrap password. Always set via
	// GATEHOUSE_ADMIN_PASSWORD rather than in the config file.
	AdminPassword string `yaml:"admin_password"`
}

// JWTConfig contains access/refresh token settings.
type JWTConfig struct {
	// Secret is the HMAC signing key. Required, minimum 32 characters.
	// Always set via GATEHOUSE_JWT_SECRET in production.
	Secret string `yaml:"secret"`

	// Issuer and Audience are verified on every access token.
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// AccessTokenTTL is the access token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`

	// RefreshTokenTTL is the refresh token lifetime in hours.
	RefreshTokenTTL int `yaml:"refresh_token_ttl"`
}

// CacheConfig contains derived auth-state cache settings.
type CacheConfig struct {
	// TTL is the absolute entry lifetime in seconds. Entries are never
	// served beyond this age regardless of access pattern.
	TTL int `yaml:"ttl"`

	// MaxEntries bounds the number of cached users.
	MaxEntries int `yaml:"max_entries"`
}

// LockoutConfig contains failed-login lockout settings.
type LockoutConfig struct {
	// MaxFailures is the number of consecutive failed logins before lockout.
	MaxFailures int `yaml:"max_failures"`

	// WindowMinutes is how long a locked-out account stays locked.
	WindowMinutes int `yaml:"window_minutes"`
}

// MQTTConfig contains security-event broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains auth-metrics sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GATEHOUSE_SECTION_KEY
// For example: GATEHOUSE_DATABASE_PATH, GATEHOUSE_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "gatehouse-001",
			Name: "Gatehouse",
		},
		Database: DatabaseConfig{
			Path:        "./data/gatehouse.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Issuer:          "gatehouse",
				Audience:        "gatehouse-clients",
				AccessTokenTTL:  10,
				RefreshTokenTTL: 168,
			},
			Cache: CacheConfig{
				TTL:        60,
				MaxEntries: 4096,
			},
			Lockout: LockoutConfig{
				MaxFailures:   5,
				WindowMinutes: 15,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gatehouse-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GATEHOUSE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GATEHOUSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Auth - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("GATEHOUSE_JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
	}
	if v := os.Getenv("GATEHOUSE_JWT_ISSUER"); v != "" {
		cfg.Auth.JWT.Issuer = v
	}
	if v := os.Getenv("GATEHOUSE_JWT_AUDIENCE"); v != "" {
		cfg.Auth.JWT.Audience = v
	}

	// Bootstrap administrator
	if v := os.Getenv("GATEHOUSE_ADMIN_USERNAME"); v != "" {
		cfg.Auth.Bootstrap.AdminUsername = v
	}
	if v := os.Getenv("GATEHOUSE_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.Bootstrap.AdminPassword = v
	}

	// MQTT
	if v := os.Getenv("GATEHOUSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATEHOUSE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GATEHOUSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GATEHOUSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GATEHOUSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// JWT secret is REQUIRED. An empty or weak secret would allow forged
	// access tokens, which defeats every authorization check downstream.
	const minJWTSecretLength = 32
	if c.Auth.JWT.Secret == "" {
		errs = append(errs, "auth.jwt.secret is required (set GATEHOUSE_JWT_SECRET environment variable)")
	} else if len(c.Auth.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "auth.jwt.secret must be at least 32 characters")
	}

	if c.Auth.JWT.Issuer == "" {
		errs = append(errs, "auth.jwt.issuer is required")
	}
	if c.Auth.JWT.Audience == "" {
		errs = append(errs, "auth.jwt.audience is required")
	}
	if c.Auth.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "auth.jwt.access_token_ttl must be positive")
	}
	if c.Auth.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "auth.jwt.refresh_token_ttl must be positive")
	}
	if c.Auth.Cache.TTL <= 0 {
		errs = append(errs, "auth.cache.ttl must be positive")
	}
	if c.Auth.Lockout.MaxFailures <= 0 {
		errs = append(errs, "auth.lockout.max_failures must be positive")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AccessTokenTTL returns the access token lifetime as a Duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime as a Duration.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.JWT.RefreshTokenTTL) * time.Hour
}

// CacheTTL returns the auth cache entry lifetime as a Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Auth.Cache.TTL) * time.Second
}

// LockoutWindow returns the failed-login lockout window as a Duration.
func (c *Config) LockoutWindow() time.Duration {
	return time.Duration(c.Auth.Lockout.WindowMinutes) * time.Minute
}
