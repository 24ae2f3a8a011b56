// Package config loads the exchange engine configuration from a YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is consulted when EXCHANGE_CONFIG is unset.
const DefaultPath = "config/exchange.yaml"

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Engine   EngineConfig   `yaml:"engine"`
}

// DatabaseConfig configures the postgres connection.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig configures optional Redis-backed counters.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the metrics/health listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SweeperConfig configures the expiration sweeper.
type SweeperConfig struct {
	Schedule string `yaml:"schedule"`
}

// EngineConfig configures engine behavior.
type EngineConfig struct {
	SignupBonus int64         `yaml:"signup_bonus"`
	SwapTTL     time.Duration `yaml:"swap_ttl"`
}

// Load reads the config file (EXCHANGE_CONFIG or DefaultPath), applies
// defaults and environment overrides, then validates. A missing file is not
// an error; the environment alone can carry a full configuration.
func Load() (*Config, error) {
	path := os.Getenv("EXCHANGE_CONFIG")
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{
		Database: DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 300},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Addr: ":9104"},
		Sweeper:  SweeperConfig{Schedule: "@every 1m"},
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required (config database.dsn or DATABASE_DSN)")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SWEEPER_SCHEDULE"); v != "" {
		cfg.Sweeper.Schedule = v
	}
	if v := os.Getenv("SIGNUP_BONUS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.SignupBonus = n
		}
	}
	if v := os.Getenv("SWAP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.SwapTTL = d
		}
	}
}
