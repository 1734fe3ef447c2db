package offlinekit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-offline-kit/cache"
	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
)

// Duration is a time.Duration that reads and writes as a string like "30s"
// or "2m" in YAML, JSON and environment configuration.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// RemoteConfig holds the settings used to construct an HTTP remote.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url" json:"base_url" env:"OFFLINE_REMOTE_BASE_URL"`
	Token   string   `yaml:"token,omitempty" json:"token,omitempty" env:"OFFLINE_REMOTE_TOKEN"`
	Timeout Duration `yaml:"timeout" json:"timeout" env:"OFFLINE_REMOTE_TIMEOUT"`
}

// Config carries the tunables of the kit. Zero values mean "use the
// default"; explicit negatives are rejected by Validate.
type Config struct {
	// DataDir is where file-backed stores keep their data. The library
	// itself never opens it; binaries use it to place the sqlite database
	// and the file cache directory.
	DataDir string `yaml:"data_dir" json:"data_dir" env:"OFFLINE_DATA_DIR"`

	// MaxRetries is the per-action retry ceiling.
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"OFFLINE_MAX_RETRIES"`

	// SizeThreshold is the cache tier boundary in bytes: values at or
	// above it go to the file tier.
	SizeThreshold int `yaml:"size_threshold" json:"size_threshold" env:"OFFLINE_SIZE_THRESHOLD"`

	// EventLogCapacity bounds the diagnostic event feed.
	EventLogCapacity int `yaml:"event_log_capacity" json:"event_log_capacity" env:"OFFLINE_EVENT_LOG_CAPACITY"`

	// ProbeInterval is how often the connectivity monitor polls.
	ProbeInterval Duration `yaml:"probe_interval" json:"probe_interval" env:"OFFLINE_PROBE_INTERVAL"`

	// AutoSyncInterval drives periodic drains when positive. Zero leaves
	// auto sync off.
	AutoSyncInterval Duration `yaml:"auto_sync_interval" json:"auto_sync_interval" env:"OFFLINE_AUTO_SYNC_INTERVAL"`

	// Remote configures the HTTP backend.
	Remote RemoteConfig `yaml:"remote" json:"remote"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		SizeThreshold:    cache.DefaultSizeThreshold,
		EventLogCapacity: eventlog.DefaultCapacity,
		ProbeInterval:    Duration(connectivity.DefaultInterval),
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
	}
}

func (c *Config) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.SizeThreshold == 0 {
		c.SizeThreshold = cache.DefaultSizeThreshold
	}
	if c.EventLogCapacity == 0 {
		c.EventLogCapacity = eventlog.DefaultCapacity
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = Duration(connectivity.DefaultInterval)
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = Duration(30 * time.Second)
	}
}

// Validate rejects values that cannot be fixed up by defaulting.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.SizeThreshold < 0 {
		return fmt.Errorf("size_threshold must not be negative, got %d", c.SizeThreshold)
	}
	if c.EventLogCapacity < 0 {
		return fmt.Errorf("event_log_capacity must not be negative, got %d", c.EventLogCapacity)
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("probe_interval must not be negative, got %s", c.ProbeInterval)
	}
	if c.AutoSyncInterval < 0 {
		return fmt.Errorf("auto_sync_interval must not be negative, got %s", c.AutoSyncInterval)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative, got %s", c.Remote.Timeout)
	}
	return nil
}

// LoadConfig reads a YAML or JSON configuration file. The format is chosen
// by extension, defaulting to YAML. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch detectFormat(path) {
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv builds a configuration from OFFLINE_* environment
// variables, starting from the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// detectFormat determines file format from extension.
func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yml", ".yaml":
		return "yaml"
	default:
		return "yaml"
	}
}
