package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the onpass gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Device    DeviceConfig    `yaml:"device"`
	Access    AccessConfig    `yaml:"access"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BackendConfig contains the authorization backend settings.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	ScanPath       string `yaml:"scan_path"`
	DoorAccessPath string `yaml:"door_access_path"`
	// Timeout is the per-request timeout in seconds. 0 disables it.
	Timeout int `yaml:"timeout"`
}

// DeviceConfig contains settings for the door controller HTTP endpoints.
type DeviceConfig struct {
	InstructionPath string `yaml:"instruction_path"`
	// Timeout is the per-request timeout in seconds. 0 disables it.
	Timeout int `yaml:"timeout"`
}

// AccessConfig contains the timings and values of the door opening sequence.
type AccessConfig struct {
	// RelayOpenTime is sent verbatim as the instruction's ucTime_ds argument.
	RelayOpenTime int    `yaml:"relay_open_time"`
	RelayPosition string `yaml:"relay_position"`

	// DoorOpenDelay is how long the permit screen stays up, in milliseconds.
	DoorOpenDelay int `yaml:"door_open_delay"`

	// ErrorDisplayDelay is how long the error screen stays up, in milliseconds.
	ErrorDisplayDelay int `yaml:"error_display_delay"`

	SuccessMessage string `yaml:"success_message"`

	// Timezone used for the time shown on the permit screen.
	Timezone string `yaml:"timezone"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The MQTT transport is optional; when disabled devices report over
// WebSocket or HTTP only.
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite settings for the access audit log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains per-client rate limiting settings for the HTTP API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern ONPASS_SECTION_KEY, for example
// ONPASS_API_PORT. The backend URL also honours API_URL.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadEnv builds a configuration from defaults and environment variables only.
// It is used when the gateway runs without a config file.
func LoadEnv() (*Config, error) {
	cfg := defaultConfig()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			ScanPath:       "/iot_socket",
			DoorAccessPath: "/get_access_qr",
			Timeout:        10,
		},
		Device: DeviceConfig{
			InstructionPath: "/api/instruction",
			Timeout:         10,
		},
		Access: AccessConfig{
			RelayOpenTime:     10,
			RelayPosition:     "main",
			DoorOpenDelay:     5000,
			ErrorDisplayDelay: 3000,
			SuccessMessage:    "Puerta abierta correctamente",
			Timezone:          "Local",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "onpass-socket",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/onpass.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	// API_URL is the name existing deployments already set.
	if v := os.Getenv("API_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("ONPASS_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}

	// API
	if v := os.Getenv("ONPASS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	envInt(&errs, "ONPASS_API_PORT", &cfg.API.Port)

	// Access timings
	envInt(&errs, "ONPASS_ACCESS_DOOR_OPEN_DELAY", &cfg.Access.DoorOpenDelay)
	envInt(&errs, "ONPASS_ACCESS_ERROR_DISPLAY_DELAY", &cfg.Access.ErrorDisplayDelay)
	envInt(&errs, "ONPASS_ACCESS_RELAY_OPEN_TIME", &cfg.Access.RelayOpenTime)

	// MQTT
	if v := os.Getenv("ONPASS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("ONPASS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ONPASS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ONPASS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("ONPASS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
		cfg.Database.Enabled = true
	}

	// Logging
	if v := os.Getenv("ONPASS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return errors.Join(errs...)
}

func envInt(errs *[]error, key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Backend validation
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required (set API_URL environment variable)")
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "backend.base_url must be an absolute http or https URL")
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, "backend.timeout must not be negative")
	}
	if c.Device.Timeout < 0 {
		errs = append(errs, "device.timeout must not be negative")
	}

	// Access sequence validation
	if c.Access.DoorOpenDelay < 0 {
		errs = append(errs, "access.door_open_delay must not be negative")
	}
	if c.Access.ErrorDisplayDelay < 0 {
		errs = append(errs, "access.error_display_delay must not be negative")
	}
	if c.Access.RelayPosition == "" {
		errs = append(errs, "access.relay_position is required")
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("access.timezone is invalid: %v", err))
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Optional stores
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the time zone used for screen timestamps.
func (c *Config) Location() (*time.Location, error) {
	switch c.Access.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Access.Timezone)
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// DoorOpenDelayDuration returns the permit screen duration.
func (a AccessConfig) DoorOpenDelayDuration() time.Duration {
	return time.Duration(a.DoorOpenDelay) * time.Millisecond
}

// ErrorDisplayDuration returns the error screen duration.
func (a AccessConfig) ErrorDisplayDuration() time.Duration {
	return time.Duration(a.ErrorDisplayDelay) * time.Millisecond
}
