package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// envPrefix prefixes every environment override.
const envPrefix = "TIKOBRIDGE_"

// minJWTSecretLength matches the shortest secret the token signer accepts.
const minJWTSecretLength = 32

// Config is the root configuration structure for the Tiko bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Tiko      TikoConfig      `yaml:"tiko"`
	Polling   PollingConfig   `yaml:"polling"`
	Database  DatabaseConfig  `yaml:"database"`
	Audit     AuditConfig     `yaml:"audit"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this bridge instance.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// TikoConfig contains the vendor account and endpoint.
type TikoConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// Endpoint is a preset name ("tiko.fr", "tiko.ch") or a full GraphQL URL.
	Endpoint string `yaml:"endpoint"`

	// MaxLoginAttempts bounds consecutive logins before the session fails fast.
	MaxLoginAttempts int `yaml:"max_login_attempts"`

	// LoginCooldown is how long logins are refused once the attempt budget
	// is spent, after which the budget is restored (seconds).
	LoginCooldown int `yaml:"login_cooldown"`

	// RequestTimeout bounds one HTTP request (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// PollingConfig contains refresh schedules.
type PollingConfig struct {
	// StateInterval is the live-state refresh cadence (seconds).
	StateInterval int `yaml:"state_interval"`

	// ConsumptionInterval is the consumption refresh cadence (seconds).
	ConsumptionInterval int `yaml:"consumption_interval"`

	// CycleTimeout bounds one refresh cycle including its retry (seconds).
	CycleTimeout int `yaml:"cycle_timeout"`

	// ConsumptionPeriod is "today", "yesterday" or "last_7_days".
	ConsumptionPeriod string `yaml:"consumption_period"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AuditConfig contains command audit settings.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// RetentionDays prunes records older than this at startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Discovery   MQTTDiscoveryConfig `yaml:"discovery"`
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

// MQTTDiscoveryConfig controls Home Assistant MQTT discovery.
type MQTTDiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig contains API bearer token settings.
type APIAuthConfig struct {
	// JWTSecret signs and verifies API tokens. Empty disables authentication.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings.
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
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: TIKOBRIDGE_SECTION_KEY
// For example: TIKOBRIDGE_TIKO_EMAIL, TIKOBRIDGE_DATABASE_PATH
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "tiko-bridge",
			Name:     "Tiko Bridge",
			Timezone: "Europe/Paris",
		},
		Tiko: TikoConfig{
			Endpoint:         tiko.EndpointFR,
			MaxLoginAttempts: tiko.DefaultMaxLoginAttempts,
			LoginCooldown:    int(tiko.DefaultLoginCooldown / time.Second),
			RequestTimeout:   10,
		},
		Polling: PollingConfig{
			StateInterval:       30,
			ConsumptionInterval: 300,
			CycleTimeout:        15,
			ConsumptionPeriod:   string(tiko.PeriodToday),
		},
		Database: DatabaseConfig{
			Path:        "./data/tikobridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tiko-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "tiko",
			Discovery: MQTTDiscoveryConfig{
				Enabled: true,
				Prefix:  "homeassistant",
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets belong here rather than in the file.
func applyEnvOverrides(cfg *Config) {
	// Tiko account
	if v := os.Getenv(envPrefix + "TIKO_EMAIL"); v != "" {
		cfg.Tiko.Email = v
	}
	if v := os.Getenv(envPrefix + "TIKO_PASSWORD"); v != "" {
		cfg.Tiko.Password = v
	}
	if v := os.Getenv(envPrefix + "TIKO_ENDPOINT"); v != "" {
		cfg.Tiko.Endpoint = v
	}

	// Database
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv(envPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv(envPrefix + "API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Tiko account
	if strings.TrimSpace(c.Tiko.Email) == "" {
		errs = append(errs, "tiko.email is required (set "+envPrefix+"TIKO_EMAIL)")
	}
	if c.Tiko.Password == "" {
		errs = append(errs, "tiko.password is required (set "+envPrefix+"TIKO_PASSWORD)")
	}
	if _, err := tiko.ResolveEndpoint(c.Tiko.Endpoint); err != nil {
		errs = append(errs, fmt.Sprintf("tiko.endpoint: %v", err))
	}
	if c.Tiko.MaxLoginAttempts < 1 {
		errs = append(errs, "tiko.max_login_attempts must be at least 1")
	}
	if c.Tiko.LoginCooldown < 10 {
		errs = append(errs, "tiko.login_cooldown must be at least 10 seconds")
	}
	if c.Tiko.RequestTimeout < 1 {
		errs = append(errs, "tiko.request_timeout must be at least 1 second")
	}

	// Polling
	if c.Polling.StateInterval < 5 {
		errs = append(errs, "polling.state_interval must be at least 5 seconds")
	}
	if c.Polling.ConsumptionInterval < 60 {
		errs = append(errs, "polling.consumption_interval must be at least 60 seconds")
	}
	if c.Polling.CycleTimeout < 1 || c.Polling.CycleTimeout > 60 {
		errs = append(errs, "polling.cycle_timeout must be between 1 and 60 seconds")
	}
	if _, err := tiko.ParsePeriod(c.Polling.ConsumptionPeriod); err != nil {
		errs = append(errs, fmt.Sprintf("polling.consumption_period: %v", err))
	}

	// Database validation
	if c.Audit.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when audit is enabled")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetStateInterval returns the live-state refresh cadence.
func (c *Config) GetStateInterval() time.Duration {
	return time.Duration(c.Polling.StateInterval) * time.Second
}

// GetConsumptionInterval returns the consumption refresh cadence.
func (c *Config) GetConsumptionInterval() time.Duration {
	return time.Duration(c.Polling.ConsumptionInterval) * time.Second
}

// GetCycleTimeout returns the refresh cycle bound.
func (c *Config) GetCycleTimeout() time.Duration {
	return time.Duration(c.Polling.CycleTimeout) * time.Second
}

// GetRequestTimeout returns the vendor HTTP request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Tiko.RequestTimeout) * time.Second
}

// GetLoginCooldown returns how long an exhausted login budget stays closed.
func (c *Config) GetLoginCooldown() time.Duration {
	return time.Duration(c.Tiko.LoginCooldown) * time.Second
}

// GetAuditRetention returns how long audit records are kept. Zero keeps everything.
func (c *Config) GetAuditRetention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
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
