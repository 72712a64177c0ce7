package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor INDIPANEL_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for INDI Panel.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	INDI       INDIConfig       `yaml:"indi"`
	INDIServer INDIServerConfig `yaml:"indiserver"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// INDIConfig contains INDI server client settings.
type INDIConfig struct {
	// DefaultHost is pre-filled in the panel; connecting still needs an explicit request.
	DefaultHost string `yaml:"default_host"`

	// Port is used when the requested host carries no port. Default: 7624
	Port int `yaml:"port"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadTimeout is the short per-read deadline while waiting for documents.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// BLOBTimeout is the relaxed per-read deadline while receiving a BLOB payload.
	BLOBTimeout time.Duration `yaml:"blob_timeout"`

	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdlePollInterval is how often the reader checks for a new connection.
	IdlePollInterval time.Duration `yaml:"idle_poll_interval"`

	// ImagesDir is the root directory for saved BLOBs.
	ImagesDir string `yaml:"images_dir"`

	// BLOBFraming is "raw" (payload bytes follow the vector) or "inline" (base64).
	BLOBFraming string `yaml:"blob_framing"`

	// MaxBLOBSize caps a received BLOB in bytes. Default: 512 MiB
	MaxBLOBSize int `yaml:"max_blob_size"`

	// AutoGetProperties sends getProperties right after connecting.
	AutoGetProperties bool `yaml:"auto_get_properties"`

	Pacing PacingConfig `yaml:"pacing"`
}

// PacingConfig holds delays between imaging sequence commands.
type PacingConfig struct {
	AfterConnect    time.Duration `yaml:"after_connect"`
	BetweenCommands time.Duration `yaml:"between_commands"`
}

// INDIServerConfig controls an optional locally supervised indiserver.
// When enabled it listens on indi.port and the panel connects to it on localhost.
type INDIServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`

	// Drivers are driver executables, e.g. indi_simulator_ccd.
	Drivers []string `yaml:"drivers"`

	// ExtraArgs are passed before the drivers (e.g. ["-m", "100"]).
	ExtraArgs []string `yaml:"extra_args"`

	// Verbose adds -v and logs server output at debug level.
	Verbose bool `yaml:"verbose"`

	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestarts caps automatic restarts after a crash. 0 means unlimited.
	MaxRestarts int `yaml:"max_restarts"`

	// ReadyTimeout bounds how long startup waits for the port to accept.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
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
// Write must cover a full imaging sequence including pacing delays.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// Format is "json", "text" or "console".
	Format string `yaml:"format"`

	// Output is "stdout" or "stderr".
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty Secret disables API authentication (single-user bench setups).
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INDIPANEL_SECTION_KEY
// For example: INDIPANEL_INDI_IMAGES_DIR, INDIPANEL_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//   - optional: If true, a missing file is not an error and defaults are used
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string, optional bool) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		INDI: INDIConfig{
			DefaultHost:      "localhost",
			Port:             7624,
			ConnectTimeout:   10 * time.Second,
			ReadTimeout:      time.Second,
			BLOBTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Second,
			IdlePollInterval: 100 * time.Millisecond,
			ImagesDir:        "./images",
			BLOBFraming:      "raw",
			MaxBLOBSize:      512 << 20,
			Pacing: PacingConfig{
				AfterConnect:    time.Second,
				BetweenCommands: 200 * time.Millisecond,
			},
		},
		INDIServer: INDIServerConfig{
			Binary:       "indiserver",
			RestartDelay: 5 * time.Second,
			MaxRestarts:  10,
			ReadyTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/indipanel.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "indipanel",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "indipanel",
			Bucket:        "indi",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INDIPANEL_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// INDI
	if v := os.Getenv("INDIPANEL_INDI_HOST"); v != "" {
		cfg.INDI.DefaultHost = v
	}
	if v := os.Getenv("INDIPANEL_INDI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INDIPANEL_INDI_PORT: %w", err)
		}
		cfg.INDI.Port = port
	}
	if v := os.Getenv("INDIPANEL_INDI_IMAGES_DIR"); v != "" {
		cfg.INDI.ImagesDir = v
	}
	if v := os.Getenv("INDIPANEL_INDI_BLOB_FRAMING"); v != "" {
		cfg.INDI.BLOBFraming = v
	}

	if v := os.Getenv("INDIPANEL_INDISERVER_DRIVERS"); v != "" {
		cfg.INDIServer.Drivers = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}

	// Database
	if v := os.Getenv("INDIPANEL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INDIPANEL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INDIPANEL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INDIPANEL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("INDIPANEL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("INDIPANEL_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INDIPANEL_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("INDIPANEL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("INDIPANEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INDIPANEL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Security - JWT secret
	if v := os.Getenv("INDIPANEL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// INDI validation
	if c.INDI.Port < 1 || c.INDI.Port > 65535 {
		errs = append(errs, "indi.port must be between 1 and 65535")
	}
	if c.INDI.ImagesDir == "" {
		errs = append(errs, "indi.images_dir is required")
	}
	switch c.INDI.BLOBFraming {
	case "raw", "inline":
	default:
		errs = append(errs, `indi.blob_framing must be "raw" or "inline"`)
	}
	if c.INDI.MaxBLOBSize <= 0 {
		errs = append(errs, "indi.max_blob_size must be positive")
	}
	if c.INDI.Pacing.AfterConnect < 0 || c.INDI.Pacing.BetweenCommands < 0 {
		errs = append(errs, "indi.pacing delays must not be negative")
	}

	if c.INDIServer.Enabled {
		if c.INDIServer.Binary == "" {
			errs = append(errs, "indiserver.binary is required when enabled")
		}
		if len(c.INDIServer.Drivers) == 0 {
			errs = append(errs, "indiserver.drivers must list at least one driver")
		}
		if c.INDIServer.MaxRestarts < 0 {
			errs = append(errs, "indiserver.max_restarts must not be negative")
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Logging validation
	switch c.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, `logging.format must be "json", "text" or "console"`)
	}

	// An empty secret disables auth; a set one must be strong enough to
	// resist brute-forcing a forged token.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
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

// GetAccessTokenTTL returns the issued token lifetime.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}
