package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"fileflow/internal/ingest"
	"fileflow/internal/worker"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.MaxFileSize != 50<<20 || cfg.MaxFiles != 50 || cfg.Retention.TTL != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestNormalizeTypes(t *testing.T) {
	got := normalizeTypes([]string{"IMAGE/PNG", " application/pdf ", "image/png", ""})
	if len(got) != 2 || got[0] != "image/png" || got[1] != "application/pdf" {
		t.Fatalf("unexpected normalized types: %v", got)
	}
	if len(normalizeTypes(nil)) != len(Default().AllowedTypes) {
		t.Fatalf("expected defaults for empty list")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	path := writeConfig(t, "port: 9090\nuploads_dir: testdata\nmax_files: 5\nmin_delay: 10ms\nmax_delay: 20ms\nretention:\n  ttl: 24h\n  schedule: \"@hourly\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.UploadsDir != "testdata" || cfg.MaxFiles != 5 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.MinDelay != 10*time.Millisecond || cfg.MaxDelay != 20*time.Millisecond {
		t.Fatalf("durations not parsed: %v %v", cfg.MinDelay, cfg.MaxDelay)
	}
	if cfg.Retention.TTL != 24*time.Hour || cfg.Retention.Schedule != "@hourly" {
		t.Fatalf("retention not parsed: %+v", cfg.Retention)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 9090\n")
	t.Setenv("FILEFLOW_PORT", "7070")
	t.Setenv("FILEFLOW_MAX_FILES", "3")
	t.Setenv("FILEFLOW_RETENTION_TTL", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7070 || cfg.MaxFiles != 3 || cfg.Retention.TTL != time.Hour {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"max files":    "max_files: -1\n",
		"delay order":  "min_delay: 3s\nmax_delay: 1s\n",
		"pool size":    "worker_pool_size: 0\n",
		"log level":    "log_level: loud\n",
		"port too big": "port: 70000\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDefaultsFollowServiceDefaults(t *testing.T) {
	cfg := Default()
	if !reflect.DeepEqual(cfg.AllowedTypes, ingest.DefaultAllowedTypes) {
		t.Fatalf("allowed types %v differ from ingestion defaults %v", cfg.AllowedTypes, ingest.DefaultAllowedTypes)
	}
	if cfg.MaxFileSize != ingest.DefaultMaxFileSize || cfg.MaxFiles != ingest.DefaultMaxFiles {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.MinDelay != worker.DefaultMinDelay || cfg.MaxDelay != worker.DefaultMaxDelay {
		t.Fatalf("unexpected delays: %+v", cfg)
	}

	cfg.AllowedTypes[0] = "text/plain"
	if ingest.DefaultAllowedTypes[0] == "text/plain" {
		t.Fatalf("Default shares its allowed types slice with the ingestion defaults")
	}
}
