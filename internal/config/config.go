package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"fileflow/internal/ingest"
	"fileflow/internal/worker"
)

const (
	envPrefix              = "FILEFLOW"
	defaultPort            = 5000
	defaultUploadsDir      = "uploads"
	defaultWorkerPoolSize  = 16
	defaultSweepSchedule   = "@every 10m"
	defaultShutdownTimeout = 10 * time.Second
)

// Config describes runtime configuration for the service.
type Config struct {
	Port            int             `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	UploadsDir      string          `yaml:"uploads_dir" split_words:"true" validate:"required"`
	MaxFileSize     int64           `yaml:"max_file_size" split_words:"true" validate:"min=1"`
	MaxFiles        int             `yaml:"max_files" split_words:"true" validate:"min=1"`
	AllowedTypes    []string        `yaml:"allowed_types" split_words:"true" validate:"min=1,dive,required"`
	WorkerPoolSize  int             `yaml:"worker_pool_size" split_words:"true" validate:"min=1"`
	MinDelay        time.Duration   `yaml:"min_delay" split_words:"true" validate:"min=0"`
	MaxDelay        time.Duration   `yaml:"max_delay" split_words:"true" validate:"gtefield=MinDelay"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" split_words:"true" validate:"min=0"`
	LogLevel        string          `yaml:"log_level" split_words:"true" validate:"omitempty,oneof=trace debug info warn error"`
	Retention       RetentionConfig `yaml:"retention" split_words:"true"`
}

// RetentionConfig controls removal of finished tasks. A zero TTL keeps everything.
type RetentionConfig struct {
	TTL      time.Duration `yaml:"ttl" split_words:"true" validate:"min=0"`
	Schedule string        `yaml:"schedule" split_words:"true" validate:"required"`
}

// Default returns the settings used when no file or environment overrides exist.
func Default() Config {
	return Config{
		Port:            defaultPort,
		UploadsDir:      defaultUploadsDir,
		MaxFileSize:     ingest.DefaultMaxFileSize,
		MaxFiles:        ingest.DefaultMaxFiles,
		AllowedTypes:    append([]string(nil), ingest.DefaultAllowedTypes...),
		WorkerPoolSize:  defaultWorkerPoolSize,
		MinDelay:        worker.DefaultMinDelay,
		MaxDelay:        worker.DefaultMaxDelay,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		Retention:       RetentionConfig{Schedule: defaultSweepSchedule},
	}
}

// Load reads YAML config from the provided path, then applies FILEFLOW_* environment overrides.
// If the file does not exist or is empty, defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// basic normalization
func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if strings.TrimSpace(cfg.UploadsDir) == "" {
		cfg.UploadsDir = defaultUploadsDir
	}
	if strings.TrimSpace(cfg.Retention.Schedule) == "" {
		cfg.Retention.Schedule = defaultSweepSchedule
	}
	cfg.AllowedTypes = normalizeTypes(cfg.AllowedTypes)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
}

func normalizeTypes(in []string) []string {
	if len(in) == 0 {
		return Default().AllowedTypes
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, t := range in {
		v := strings.ToLower(strings.TrimSpace(t))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		normalized = append(normalized, v)
	}
	return normalized
}
