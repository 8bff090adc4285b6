package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig         `yaml:"hue"`
	Stream          StreamConfig      `yaml:"stream"`
	Effect          EffectConfig      `yaml:"effect"`
	Supervisor      SupervisorConfig  `yaml:"supervisor"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Cache           CacheConfig       `yaml:"cache"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge    string   `yaml:"bridge"`
	Username  string   `yaml:"username"`   // Whitelisted application key, also the PSK identity
	ClientKey string   `yaml:"client_key"` // Hex-encoded PSK issued with generateclientkey
	Timeout   Duration `yaml:"timeout"`    // HTTP timeout for Hue API requests
	Port      int      `yaml:"port"`       // Entertainment UDP port (default: 2100)
}

// StreamConfig contains entertainment session settings
type StreamConfig struct {
	Group            string   `yaml:"group"`
	ColorSpace       string   `yaml:"color_space"`       // "xy" or "rgb" (default: xy)
	Interval         Duration `yaml:"interval"`          // Frame period (default: 20ms)
	HandshakeTimeout Duration `yaml:"handshake_timeout"` // 0 = bounded only by shutdown
	DryRun           bool     `yaml:"dry_run"`           // Log frames instead of sending them
	DryRunLights     []string `yaml:"dry_run_lights"`    // Synthetic group members when dry_run is set
}

// EffectConfig contains Lua effect settings
type EffectConfig struct {
	Script string `yaml:"script"`
	FPS    int    `yaml:"fps"` // Effect evaluations per second (default: 25)
}

// GetFPS returns the effect rate with default
func (c *EffectConfig) GetFPS() int {
	if c.FPS <= 0 {
		return 25
	}
	return c.FPS
}

// SupervisorConfig controls session rebuilds after transport errors
type SupervisorConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between rebuilds (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between rebuilds (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxRebuilds     int      `yaml:"max_rebuilds"`      // Max consecutive rebuild attempts, 0 = infinite
	ErrorThreshold  int      `yaml:"error_threshold"`   // Transport errors within one session before a rebuild (default: 50)
	ErrorLogRate    float64  `yaml:"error_log_rate"`    // Transport error log lines per second (default: 1)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the configured level, lowercased
func (c *LogConfig) GetLevel() string {
	return strings.ToLower(c.Level)
}

// CacheConfig contains bridge state cache settings
type CacheConfig struct {
	TTL Duration `yaml:"ttl"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // default: true
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Metrics bool   `yaml:"metrics"` // Serve Prometheus metrics on /metrics
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expanding environment variables and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huestream.sqlite"
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(30 * time.Second)
	}
	if cfg.Hue.Port == 0 {
		cfg.Hue.Port = 2100
	}

	// Stream defaults
	if cfg.Stream.ColorSpace == "" {
		cfg.Stream.ColorSpace = "xy"
	}
	if cfg.Stream.Interval == 0 {
		cfg.Stream.Interval = Duration(20 * time.Millisecond)
	}
	if len(cfg.Stream.DryRunLights) == 0 {
		cfg.Stream.DryRunLights = []string{"1", "2", "3"}
	}

	// Supervisor defaults
	if cfg.Supervisor.MinRetryBackoff == 0 {
		cfg.Supervisor.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Supervisor.MaxRetryBackoff == 0 {
		cfg.Supervisor.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Supervisor.RetryMultiplier == 0 {
		cfg.Supervisor.RetryMultiplier = 2.0
	}
	if cfg.Supervisor.ErrorThreshold == 0 {
		cfg.Supervisor.ErrorThreshold = 50
	}
	if cfg.Supervisor.ErrorLogRate == 0 {
		cfg.Supervisor.ErrorLogRate = 1.0
	}
	// MaxRebuilds defaults to 0 (infinite), no need to set

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(5 * time.Minute)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Stream.ColorSpace) {
	case "xy", "rgb":
	default:
		return fmt.Errorf("stream.color_space must be \"xy\" or \"rgb\", got %q", c.Stream.ColorSpace)
	}
	if c.Stream.Interval.Duration() < 0 {
		return fmt.Errorf("stream.interval must not be negative")
	}
	if c.Supervisor.RetryMultiplier < 1 {
		return fmt.Errorf("supervisor.retry_multiplier must be >= 1, got %v", c.Supervisor.RetryMultiplier)
	}
	if c.Supervisor.MinRetryBackoff > c.Supervisor.MaxRetryBackoff {
		return fmt.Errorf("supervisor.min_retry_backoff exceeds max_retry_backoff")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
