package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
lessons_dir: /srv/lessons
engine:
  tick_interval_ms: 250
  error_threshold: 5
storage:
  enabled: true
  path: /var/lib/chandra/events.db
server:
  addr: ":9090"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LessonsPath() != "/srv/lessons" {
		t.Errorf("LessonsPath = %q, want /srv/lessons", cfg.LessonsPath())
	}
	if cfg.Engine.TickInterval() != 250*time.Millisecond {
		t.Errorf("TickInterval = %v, want 250ms", cfg.Engine.TickInterval())
	}
	if cfg.ArchivePath() != "/var/lib/chandra/events.db" {
		t.Errorf("ArchivePath = %q, want the configured path", cfg.ArchivePath())
	}
	if cfg.Server.ListenAddr() != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr())
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"engine": {"event_log_cap": 50}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.EventLogCap != 50 {
		t.Errorf("EventLogCap = %d, want 50", cfg.Engine.EventLogCap)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Engine.TickInterval() != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.Engine.TickInterval())
	}
	if got := (*ServerConfig)(nil).ListenAddr(); got != ":8090" {
		t.Errorf("nil ServerConfig ListenAddr = %q, want :8090", got)
	}
	if got := (*MetricsConfig)(nil).MetricsPath(); got != "/metrics" {
		t.Errorf("nil MetricsConfig MetricsPath = %q, want /metrics", got)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Engine.TickInterval() != time.Second {
		t.Errorf("TickInterval = %v, want the default", cfg.Engine.TickInterval())
	}
}

func TestLoadOrDefault_BrokenFileStillErrors(t *testing.T) {
	path := writeConfig(t, "config.yaml", "lessons_dir: [unclosed")
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("LoadOrDefault accepted invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", "lessons_dir: /from/file\n")
	t.Setenv("CHANDRA_LESSONS_DIR", "/from/env")
	t.Setenv("CHANDRA_TICK_INTERVAL_MS", "125")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LessonsPath() != "/from/env" {
		t.Errorf("LessonsPath = %q, want the env override", cfg.LessonsPath())
	}
	if cfg.Engine.TickInterval() != 125*time.Millisecond {
		t.Errorf("TickInterval = %v, want 125ms", cfg.Engine.TickInterval())
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.ErrorThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a negative error threshold")
	}

	cfg = &Config{
		Observability: &ObservabilityConfig{
			Tracing: &TracingConfig{Enabled: true},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted enabled tracing without an endpoint")
	}

	cfg.Observability.Tracing.Endpoint = "localhost:4317"
	cfg.Observability.Tracing.SampleRate = 2
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted sample_rate > 1")
	}
}
