package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	GitHub  GitHubConfig  `yaml:"github"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Port              string        `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level string `yaml:"level"`
}

// StoreConfig selects and configures the job store
type StoreConfig struct {
	// Driver is one of: postgres | badger.
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	BadgerPath  string `yaml:"badger_path"`
}

// GitHubConfig holds the GitHub App credentials
type GitHubConfig struct {
	Token             string        `yaml:"token"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	BaseURL           string        `yaml:"base_url"` // GitHub Enterprise only
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ArchiveConfig controls log archival to S3
type ArchiveConfig struct {
	// Enabled is implied by a non-empty Bucket.
	Enabled        bool          `yaml:"enabled"`
	Bucket         string        `yaml:"bucket"`
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"` // S3-compatible stores such as MinIO
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxAttempts    uint          `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	SweepSchedule  string        `yaml:"sweep_schedule"`
	SweepMaxAge    time.Duration `yaml:"sweep_max_age"`
	SweepBatch     int           `yaml:"sweep_batch"`
}

// Load builds the configuration from defaults, the optional YAML file at
// path and environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(cfg)
	if cfg.Archive.Bucket != "" {
		cfg.Archive.Enabled = true
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Driver:      DriverPostgres,
			DatabaseURL: "postgres://localhost/runner_insights?sslmode=disable",
			AutoMigrate: true,
			BadgerPath:  "./data/badger",
		},
		GitHub: GitHubConfig{
			RequestsPerSecond: 10,
			Timeout:           30 * time.Second,
		},
		Archive: ArchiveConfig{
			Region:         "us-east-1",
			Workers:        2,
			QueueSize:      256,
			MaxAttempts:    3,
			AttemptTimeout: 60 * time.Second,
			SweepSchedule:  "@every 10m",
			SweepMaxAge:    72 * time.Hour,
			SweepBatch:     50,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DatabaseURL = getEnv("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.AutoMigrate = getEnvBool("AUTO_MIGRATE", cfg.Store.AutoMigrate)
	cfg.Store.BadgerPath = getEnv("BADGER_PATH", cfg.Store.BadgerPath)
	cfg.GitHub.Token = getEnv("GITHUB_TOKEN", cfg.GitHub.Token)
	cfg.GitHub.WebhookSecret = getEnv("GITHUB_WEBHOOK_SECRET", cfg.GitHub.WebhookSecret)
	cfg.GitHub.BaseURL = getEnv("GITHUB_BASE_URL", cfg.GitHub.BaseURL)
	cfg.Archive.Region = getEnv("AWS_REGION", cfg.Archive.Region)
	cfg.Archive.Endpoint = getEnv("S3_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.Bucket = getEnv("ARCHIVE_BUCKET", cfg.Archive.Bucket)
}

func validate(cfg *Config) error {
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("server.port %q is not a valid port", cfg.Server.Port)
	}
	for name, d := range map[string]time.Duration{
		"server.read_header_timeout": cfg.Server.ReadHeaderTimeout,
		"server.read_timeout":        cfg.Server.ReadTimeout,
		"server.write_timeout":       cfg.Server.WriteTimeout,
		"server.idle_timeout":        cfg.Server.IdleTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	switch cfg.Store.Driver {
	case DriverPostgres:
		if cfg.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres driver")
		}
	case DriverBadger:
		if cfg.Store.BadgerPath == "" {
			return errors.New("store.badger_path is required for the badger driver")
		}
	default:
		return fmt.Errorf("store.driver %q unknown: want postgres|badger", cfg.Store.Driver)
	}
	if cfg.GitHub.WebhookSecret == "" {
		return errors.New("github.webhook_secret is required")
	}
	if cfg.GitHub.RequestsPerSecond <= 0 {
		return errors.New("github.requests_per_second must be positive")
	}
	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			return errors.New("archive.bucket is required when archival is enabled")
		}
		if cfg.GitHub.Token == "" {
			return errors.New("github.token is required when archival is enabled")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
