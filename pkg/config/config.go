// Package config loads the exchange core's configuration: the matching
// engine's queue depth, the storage DSN for the command log and journal,
// and logging level. Ambient only — HTTP/auth/market-data configuration
// belongs to collaborators outside the core.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for the exchange core.
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// DatabaseConfig describes the Postgres connection backing the command log
// and the ledger journal.
type DatabaseConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// EngineConfig tunes the supervisor and matching engine.
type EngineConfig struct {
	// QueueDepth is the bound on the supervisor's inbound command queue.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`
	// Assets is the set of tradable assets bootstrapped at startup.
	Assets []string `json:"assets" yaml:"assets"`
	// ReplayBatchSize controls how many command-log rows are fetched per
	// query during bootstrap replay.
	ReplayBatchSize int `json:"replay_batch_size" yaml:"replay_batch_size"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

var (
	// ErrInvalidQueueDepth is returned when EngineConfig.QueueDepth is
	// non-positive.
	ErrInvalidQueueDepth = errors.New("config: engine.queue_depth must be positive")
	// ErrMissingDatabaseHost is returned when no database host is set.
	ErrMissingDatabaseHost = errors.New("config: database.host is required")
)

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "exchange_core",
			Username:        "exchange",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Engine: EngineConfig{
			QueueDepth:      4096,
			Assets:          []string{"BTC", "ETH"},
			ReplayBatchSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Engine.QueueDepth <= 0 {
		return ErrInvalidQueueDepth
	}
	if c.Database.Host == "" {
		return ErrMissingDatabaseHost
	}
	return nil
}

// DSN returns the Postgres connection string built from DatabaseConfig.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.Username,
		c.Database.Password, c.Database.Database, c.Database.SSLMode)
}

// Load reads configuration from a YAML file at path, falling back to
// DefaultConfig when path is empty or the file does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}
