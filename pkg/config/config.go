// Package config loads the YAML application configuration with environment
// variable expansion, defaults and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:rsspie.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule struct {
		SyncInterval  int `yaml:"sync_interval" json:"sync_interval" jsonschema:"default=30,description=Feed sync interval in minutes"`
		MaxWorkers    int `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent workers for sync-all"`
		MaxArticles   int `yaml:"max_articles" json:"max_articles" jsonschema:"default=100,description=Maximum articles ingested per feed per sync"`
		RetentionDays int `yaml:"retention_days" json:"retention_days" jsonschema:"default=0,description=Delete non-favorite articles older than this many days. 0 disables the sweep"`
		SweepInterval int `yaml:"sweep_interval" json:"sweep_interval" jsonschema:"default=24,description=Hours between retention sweeps"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Fetcher struct {
		Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP timeout for feed fetches"`
		UserAgent string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=rsspie/1.0,description=User agent for feed fetches"`
	} `yaml:"fetcher" json:"fetcher" jsonschema:"description=Feed fetcher configuration"`
}

// Load reads configuration from a YAML file. A missing file is not an error,
// the defaults describe a complete working setup.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	switch {
	case os.IsNotExist(err):
		// run on defaults
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		// expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:rsspie.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Schedule.SyncInterval == 0 {
		cfg.Schedule.SyncInterval = 30
	}
	if cfg.Schedule.MaxWorkers == 0 {
		cfg.Schedule.MaxWorkers = 5
	}
	if cfg.Schedule.MaxArticles == 0 {
		cfg.Schedule.MaxArticles = 100
	}
	if cfg.Schedule.SweepInterval == 0 {
		cfg.Schedule.SweepInterval = 24
	}

	if cfg.Fetcher.Timeout == 0 {
		cfg.Fetcher.Timeout = 30 * time.Second
	}
	if cfg.Fetcher.UserAgent == "" {
		cfg.Fetcher.UserAgent = "rsspie/1.0"
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server.timeout must be at least 1 second")
	}
	if cfg.Schedule.SyncInterval < 1 {
		return fmt.Errorf("schedule.sync_interval must be at least 1 minute")
	}
	if cfg.Schedule.MaxWorkers < 1 {
		return fmt.Errorf("schedule.max_workers must be at least 1")
	}
	if cfg.Schedule.MaxArticles < 1 {
		return fmt.Errorf("schedule.max_articles must be at least 1")
	}
	if cfg.Schedule.RetentionDays < 0 {
		return fmt.Errorf("schedule.retention_days must be non-negative")
	}
	if cfg.Fetcher.Timeout < time.Second {
		return fmt.Errorf("fetcher.timeout must be at least 1 second")
	}
	return nil
}

// GenerateSchema generates a JSON schema for the Config struct
func GenerateSchema() (*jsonschema.Schema, error) {
	return jsonschema.Reflect(&Config{}), nil
}
