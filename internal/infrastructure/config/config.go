package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Felshare cloud bridge.
// All configuration is loaded from YAML and can be overridden by environment
// variables (FELSHARE_ prefix, see applyEnvOverrides).
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Throttle ThrottleConfig `yaml:"throttle"`
	HVACSync HVACSyncConfig `yaml:"hvac_sync"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains vendor cloud account and endpoint settings.
type CloudConfig struct {
	// APIBase is the vendor HTTP API base URL (login endpoint lives here).
	APIBase string `yaml:"api_base"`

	// FrontURL is sent as the Origin header on the MQTT websocket upgrade.
	FrontURL string `yaml:"front_url"`

	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// DeviceID is the vendor-assigned diffuser identifier.
	DeviceID string `yaml:"device_id"`

	// LoginTimeoutSeconds bounds the login HTTP request.
	LoginTimeoutSeconds int `yaml:"login_timeout_seconds"`

	// MaxBackoffSeconds caps the exponential reconnect backoff.
	MaxBackoffSeconds int `yaml:"max_backoff_seconds"`

	// AuthPauseMinutes is how long reconnection is paused after the cloud
	// rejects the credentials (401/403). No retry loop runs during the pause.
	AuthPauseMinutes int `yaml:"auth_pause_minutes"`

	// RateLimitBackoffSeconds is the minimum backoff applied after an
	// HTTP 429, always longer than the generic transient backoff.
	RateLimitBackoffSeconds int `yaml:"rate_limit_backoff_seconds"`
}

// MQTTConfig contains vendor cloud MQTT broker settings.
// The vendor broker speaks MQTT over TLS websockets and authenticates the
// session with a cookie carrying the HTTP login token.
type MQTTConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WSPath is the websocket upgrade path on the broker.
	WSPath string `yaml:"ws_path"`

	// Username/Password are the fixed vendor-app broker credentials,
	// shared by every client; the real authentication is the token cookie.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientIDSuffix is appended to the device ID to form the client ID,
	// matching the vendor app's convention.
	ClientIDSuffix string `yaml:"client_id_suffix"`

	// InstanceID further disambiguates this bridge from the phone app so
	// the broker does not drop one session in favour of the other.
	InstanceID string `yaml:"instance_id"`

	// ConnectTimeoutSeconds bounds the initial connect handshake.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// KeepAliveSeconds is the MQTT keepalive interval.
	KeepAliveSeconds int `yaml:"keep_alive_seconds"`
}

// ThrottleConfig contains the outbound rate limiting and polling windows.
// These defaults are deliberately conservative: the vendor cloud has been
// observed to ban chatty clients.
type ThrottleConfig struct {
	// MinPublishIntervalSeconds is the minimum spacing between publishes.
	MinPublishIntervalSeconds float64 `yaml:"min_publish_interval_seconds"`

	// MaxBurstMessages caps publishes within the trailing burst window.
	MaxBurstMessages int `yaml:"max_burst_messages"`

	// StatusMinIntervalSeconds is the minimum spacing between status requests.
	StatusMinIntervalSeconds int `yaml:"status_min_interval_seconds"`

	// BulkIntervalHours is the routine spacing between bulk-status requests.
	BulkIntervalHours int `yaml:"bulk_status_interval_hours"`

	// StartupStaleMinutes: device state older than this is considered stale,
	// permitting an early bulk refresh.
	StartupStaleMinutes int `yaml:"startup_request_stale_minutes"`

	// DispatchTickMillis is the outbox dispatch decision interval.
	DispatchTickMillis int `yaml:"dispatch_tick_millis"`

	// EnableTemplateLearning captures the vendor app's status-request
	// payload from observed traffic so refreshes can replay it verbatim.
	EnableTemplateLearning bool `yaml:"enable_template_learning"`
}

// HVACSyncConfig contains the thermostat-follow automation settings.
type HVACSyncConfig struct {
	// Enabled is the initial state; it can be toggled at runtime via the API.
	Enabled bool `yaml:"enabled"`

	// ThermostatTopic is the MQTT topic carrying thermostat state events
	// (JSON: {"state": "...", "action": "..."}). Empty disables evaluation.
	ThermostatTopic string `yaml:"thermostat_topic"`

	// AirflowMode selects which thermostat actions count as active airflow:
	// cooling_only, heat_and_cool, or any_airflow.
	AirflowMode string `yaml:"airflow_mode"`

	OnDelaySeconds  int `yaml:"on_delay_seconds"`
	OffDelaySeconds int `yaml:"off_delay_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains optional telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Durations derived from raw config integers.

// LoginTimeout returns the bounded login request timeout.
func (c CloudConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// MaxBackoff returns the reconnect backoff ceiling.
func (c CloudConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// AuthPause returns the reconnection pause applied after an auth rejection.
func (c CloudConfig) AuthPause() time.Duration {
	return time.Duration(c.AuthPauseMinutes) * time.Minute
}

// RateLimitBackoff returns the minimum backoff after an HTTP 429.
func (c CloudConfig) RateLimitBackoff() time.Duration {
	return time.Duration(c.RateLimitBackoffSeconds) * time.Second
}

// ConnectTimeout returns the broker handshake timeout.
func (m MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutSeconds) * time.Second
}

// KeepAlive returns the MQTT keepalive interval.
func (m MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(m.KeepAliveSeconds) * time.Second
}

// MinPublishInterval returns the minimum spacing between publishes.
func (t ThrottleConfig) MinPublishInterval() time.Duration {
	return time.Duration(t.MinPublishIntervalSeconds * float64(time.Second))
}

// StatusMinInterval returns the status request debounce window.
func (t ThrottleConfig) StatusMinInterval() time.Duration {
	return time.Duration(t.StatusMinIntervalSeconds) * time.Second
}

// BulkInterval returns the routine bulk-status throttle window.
func (t ThrottleConfig) BulkInterval() time.Duration {
	return time.Duration(t.BulkIntervalHours) * time.Hour
}

// StaleThreshold returns the staleness cut-off for early bulk refresh.
func (t ThrottleConfig) StaleThreshold() time.Duration {
	return time.Duration(t.StartupStaleMinutes) * time.Minute
}

// DispatchTick returns the outbox dispatch decision interval.
func (t ThrottleConfig) DispatchTick() time.Duration {
	return time.Duration(t.DispatchTickMillis) * time.Millisecond
}

// OnDelay returns the HVAC sync turn-on debounce delay.
func (h HVACSyncConfig) OnDelay() time.Duration {
	return time.Duration(h.OnDelaySeconds) * time.Second
}

// OffDelay returns the HVAC sync turn-off debounce delay.
func (h HVACSyncConfig) OffDelay() time.Duration {
	return time.Duration(h.OffDelaySeconds) * time.Second
}

// Load reads configuration from the specified YAML file.
//
// Processing order:
//  1. Apply defaults for all optional values
//  2. Parse the YAML file (overrides defaults)
//  3. Apply environment variable overrides (highest precedence)
//  4. Validate the final configuration
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator, not user input
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

// defaultConfig returns a Config populated with defaults matching the
// vendor app's observed behaviour and the bridge's conservative throttles.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			LoginTimeoutSeconds:     20,
			MaxBackoffSeconds:       900,
			AuthPauseMinutes:        15,
			RateLimitBackoffSeconds: 300,
		},
		MQTT: MQTTConfig{
			Port:                  443,
			WSPath:                "/mqtt",
			ClientIDSuffix:        "40",
			InstanceID:            "bridge",
			ConnectTimeoutSeconds: 15,
			KeepAliveSeconds:      20,
		},
		Throttle: ThrottleConfig{
			MinPublishIntervalSeconds: 1.0,
			MaxBurstMessages:          3,
			StatusMinIntervalSeconds:  60,
			BulkIntervalHours:         6,
			StartupStaleMinutes:       30,
			DispatchTickMillis:        250,
			EnableTemplateLearning:    false,
		},
		HVACSync: HVACSyncConfig{
			AirflowMode:     "cooling_only",
			OnDelaySeconds:  60,
			OffDelaySeconds: 60,
		},
		Database: DatabaseConfig{
			Path:        "data/felshare.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8093,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
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

// applyEnvOverrides applies environment variable overrides to the config.
// Only secrets and deployment-specific values are overridable; throttle
// windows stay in the file to keep them reviewable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FELSHARE_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("FELSHARE_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("FELSHARE_DEVICE_ID"); v != "" {
		cfg.Cloud.DeviceID = v
	}
	if v := os.Getenv("FELSHARE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FELSHARE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("FELSHARE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("FELSHARE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for missing or inconsistent values.
//
// Returns:
//   - error: Describing the first problem found, or nil if valid
func (c *Config) Validate() error {
	if c.Cloud.APIBase == "" {
		return fmt.Errorf("cloud.api_base is required")
	}
	if c.Cloud.Email == "" || c.Cloud.Password == "" {
		return fmt.Errorf("cloud.email and cloud.password are required")
	}
	if c.Cloud.DeviceID == "" {
		return fmt.Errorf("cloud.device_id is required")
	}
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port must be 1-65535, got %d", c.MQTT.Port)
	}
	if c.Throttle.MinPublishIntervalSeconds <= 0 {
		return fmt.Errorf("throttle.min_publish_interval_seconds must be positive")
	}
	if c.Throttle.MaxBurstMessages < 1 {
		return fmt.Errorf("throttle.max_burst_messages must be at least 1")
	}
	if mode := strings.ToLower(c.HVACSync.AirflowMode); mode != "" {
		switch mode {
		case "cooling_only", "heat_and_cool", "any_airflow":
		default:
			return fmt.Errorf("hvac_sync.airflow_mode must be cooling_only, heat_and_cool or any_airflow, got %q", c.HVACSync.AirflowMode)
		}
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Token == "" {
			return fmt.Errorf("influxdb.url and influxdb.token are required when influxdb is enabled")
		}
	}
	// Backoff sanity: keep the cap in a range that can't hammer the cloud
	// or stall recovery for hours.
	if c.Cloud.MaxBackoffSeconds < 30 {
		c.Cloud.MaxBackoffSeconds = 30
	}
	if c.Cloud.MaxBackoffSeconds > 3600 {
		c.Cloud.MaxBackoffSeconds = 3600
	}
	return nil
}
