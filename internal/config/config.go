// Package config handles loading and validating Chandra configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Chandra.
type Config struct {
	LessonsDir    string               `json:"lessons_dir,omitempty" yaml:"lessons_dir,omitempty"` // Lesson scripts directory. Default: ~/.chandra/lessons. Override: CHANDRA_LESSONS_DIR env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`       // Persistent data directory. Default: ~/.chandra/data. Override: CHANDRA_DATA_DIR env var.
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data dir)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // nil = ops endpoints disabled
}

// EngineConfig tunes the script runtime. Zero values mean defaults; the
// accessors apply them.
type EngineConfig struct {
	TickIntervalMS    int    `json:"tick_interval_ms" yaml:"tick_interval_ms"`       // Min spacing between effective ticks. Default: 1000.
	EventLogCap       int    `json:"event_log_cap" yaml:"event_log_cap"`             // Retained events across all lessons. Default: 1000.
	ErrorThreshold    int    `json:"error_threshold" yaml:"error_threshold"`         // Hook faults before a session auto-stops. Default: 10.
	MaxExecutionSteps uint64 `json:"max_execution_steps" yaml:"max_execution_steps"` // Per-invocation step budget. Default: 500000.
	StateHistoryCap   int    `json:"state_history_cap" yaml:"state_history_cap"`     // Retained state changes per session. Default: 200.
}

// TickInterval returns the tick interval with a default of 1s.
func (e EngineConfig) TickInterval() time.Duration {
	if e.TickIntervalMS > 0 {
		return time.Duration(e.TickIntervalMS) * time.Millisecond
	}
	return time.Second
}

// StorageConfig configures the event archive.
type StorageConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`         // Database file path. Default: derived from data dir.
	JournalMode   string `json:"journal_mode" yaml:"journal_mode"`             // "wal" (default), "delete", "truncate", etc.
	FlushSchedule string `json:"flush_schedule" yaml:"flush_schedule"`         // Cron spec for archive flushes. Default: "@every 30s".
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "chandra"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Ratio returns the sampling ratio, defaulting to 1.0 (sample
// everything).
func (t *TracingConfig) Ratio() float64 {
	if t == nil || t.SampleRate <= 0 {
		return 1.0
	}
	return t.SampleRate
}

// ServerConfig configures the ops HTTP server (health, readiness,
// metrics). The product-facing API is served elsewhere.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // Default: ":8090".
}

// ListenAddr returns the listen address with a default of ":8090".
func (s *ServerConfig) ListenAddr() string {
	if s != nil && s.Addr != "" {
		return s.Addr
	}
	return ":8090"
}

// LessonsPath returns the lessons directory, defaulting under the home
// directory.
func (c *Config) LessonsPath() string {
	if c.LessonsDir != "" {
		return c.LessonsDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "lessons"
	}
	return filepath.Join(home, ".chandra", "lessons")
}

// DataPath returns the data directory, defaulting under the home
// directory.
func (c *Config) DataPath() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".chandra", "data")
}

// ArchivePath returns the event archive database path.
func (c *Config) ArchivePath() string {
	if c.Storage != nil && c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.DataPath(), "chandra.db")
}

// DefaultConfigPath returns the default config file path (~/.chandra/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/chandra.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".chandra", "config.yaml")
}

// Default returns a Config with everything at defaults; used when no
// config file exists.
func Default() *Config {
	return &Config{}
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML,
// everything else for JSON. Environment variables take precedence over
// file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load, but a missing config file yields the
// default configuration (plus environment overrides) instead of an
// error. First runs should not require writing a config file.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if resolved, rerr := resolvePath(path); rerr == nil {
		if _, serr := os.Stat(resolved); os.IsNotExist(serr) {
			cfg = Default()
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
	}
	return nil, err
}

// applyEnvOverrides applies CHANDRA_* environment variables on top of
// file values.
func applyEnvOverrides(cfg *Config) {
	if env := os.Getenv("CHANDRA_LESSONS_DIR"); env != "" {
		cfg.LessonsDir = env
	}
	if env := os.Getenv("CHANDRA_DATA_DIR"); env != "" {
		cfg.DataDir = env
	}
	if env := os.Getenv("CHANDRA_DB_PATH"); env != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Enabled: true}
		}
		cfg.Storage.Path = env
	}
	if env := os.Getenv("CHANDRA_LISTEN_ADDR"); env != "" {
		if cfg.Server == nil {
			cfg.Server = &ServerConfig{}
		}
		cfg.Server.Addr = env
	}
	if env := os.Getenv("CHANDRA_TICK_INTERVAL_MS"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			cfg.Engine.TickIntervalMS = n
		}
	}
	if env := os.Getenv("CHANDRA_OTLP_ENDPOINT"); env != "" {
		if cfg.Observability == nil {
			cfg.Observability = &ObservabilityConfig{}
		}
		if cfg.Observability.Tracing == nil {
			cfg.Observability.Tracing = &TracingConfig{Enabled: true}
		}
		cfg.Observability.Tracing.Endpoint = env
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Engine.TickIntervalMS < 0 {
		return fmt.Errorf("engine.tick_interval_ms must not be negative")
	}
	if c.Engine.ErrorThreshold < 0 {
		return fmt.Errorf("engine.error_threshold must not be negative")
	}
	if c.Engine.EventLogCap < 0 {
		return fmt.Errorf("engine.event_log_cap must not be negative")
	}
	if c.Observability != nil && c.Observability.Tracing != nil {
		t := c.Observability.Tracing
		if t.Enabled && t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
