// Package config provides configuration management for the Chan engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	apperrors "chanlun-engine/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis" toml:"analysis" json:"analysis"`
	State    StateConfig    `mapstructure:"state" toml:"state" json:"state"`
	Storage  StorageConfig  `mapstructure:"storage" toml:"storage" json:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging" toml:"logging" json:"logging"`
	Batch    BatchConfig    `mapstructure:"batch" toml:"batch" json:"batch"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-" toml:"-" json:"-"`
}

// AnalysisConfig tunes the Chan pipeline.
type AnalysisConfig struct {
	MinBars             int     `mapstructure:"min_bars" toml:"min_bars" json:"min_bars"`
	MinFractalGap       int     `mapstructure:"min_fractal_gap" toml:"min_fractal_gap" json:"min_fractal_gap"`
	DivergenceThreshold float64 `mapstructure:"divergence_threshold" toml:"divergence_threshold" json:"divergence_threshold"`
	DivergenceWindow    int     `mapstructure:"divergence_window" toml:"divergence_window" json:"divergence_window"`
	Fast                int     `mapstructure:"fast" toml:"fast" json:"fast"`
	Slow                int     `mapstructure:"slow" toml:"slow" json:"slow"`
	Signal              int     `mapstructure:"signal" toml:"signal" json:"signal"`
	MomentumSource      string  `mapstructure:"momentum_source" toml:"momentum_source" json:"momentum_source"` // ema, talib
}

// StateConfig selects where cross-run stroke state lives.
type StateConfig struct {
	Backend      string `mapstructure:"backend" toml:"backend" json:"backend"` // memory, file, sqlite, postgres, redis
	HistoryLimit int    `mapstructure:"history_limit" toml:"history_limit" json:"history_limit"`
}

// StorageConfig holds per-backend settings.
type StorageConfig struct {
	File     FileStorageConfig     `mapstructure:"file" toml:"file" json:"file"`
	SQLite   SQLiteStorageConfig   `mapstructure:"sqlite" toml:"sqlite" json:"sqlite"`
	Postgres PostgresStorageConfig `mapstructure:"postgres" toml:"postgres" json:"postgres"`
	Redis    RedisStorageConfig    `mapstructure:"redis" toml:"redis" json:"redis"`
}

// FileStorageConfig configures the JSON document store.
type FileStorageConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path"`
}

// SQLiteStorageConfig configures the SQLite database that also holds bars.
type SQLiteStorageConfig struct {
	Path   string `mapstructure:"path" toml:"path" json:"path"`
	Driver string `mapstructure:"driver" toml:"driver" json:"driver"` // sqlite3 (cgo), sqlite (pure go)
}

// PostgresStorageConfig configures the PostgreSQL state store.
type PostgresStorageConfig struct {
	DSN          string `mapstructure:"dsn" toml:"dsn" json:"-"`
	MaxOpenConns int    `mapstructure:"max_open_conns" toml:"max_open_conns" json:"max_open_conns"`
}

// RedisStorageConfig configures the Redis state store.
type RedisStorageConfig struct {
	Addr     string `mapstructure:"addr" toml:"addr" json:"addr"`
	Password string `mapstructure:"password" toml:"password" json:"-"`
	DB       int    `mapstructure:"db" toml:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" toml:"prefix" json:"prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" toml:"level" json:"level"`
	File       bool   `mapstructure:"file" toml:"file" json:"file"`
	MaxSize    int    `mapstructure:"max_size" toml:"max_size" json:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" toml:"max_age" json:"max_age"` // days
}

// BatchConfig controls `chan batch`.
type BatchConfig struct {
	Workers int `mapstructure:"workers" toml:"workers" json:"workers"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/chanlun"
	}
	return filepath.Join(home, ".config", "chanlun")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("analysis.min_bars", 10)
	v.SetDefault("analysis.min_fractal_gap", 4)
	v.SetDefault("analysis.divergence_threshold", 0.618)
	v.SetDefault("analysis.divergence_window", 5)
	v.SetDefault("analysis.fast", 12)
	v.SetDefault("analysis.slow", 26)
	v.SetDefault("analysis.signal", 9)
	v.SetDefault("analysis.momentum_source", "ema")

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.history_limit", 10)

	v.SetDefault("storage.file.path", filepath.Join(configDir, "chan_state.json"))
	v.SetDefault("storage.sqlite.path", filepath.Join(configDir, "chanlun.db"))
	v.SetDefault("storage.sqlite.driver", "sqlite3")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "chanlun:state:")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("batch.workers", runtime.NumCPU())
}

// Default returns the built-in configuration rooted at configDir.
func Default(configDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, configDir)
	cfg := &Config{Dir: configDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return cfg, nil
}

// Load loads config.toml from configDir, writing a template first when the
// file does not exist. A .env file in configDir is loaded into the process
// environment before the CHANLUN_* overrides are applied.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{Dir: configDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	// Existing environment variables win over .env entries.
	return godotenv.Load(path)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHANLUN_STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("CHANLUN_STATE_PATH"); v != "" {
		switch cfg.State.Backend {
		case "sqlite":
			cfg.Storage.SQLite.Path = v
		default:
			cfg.Storage.File.Path = v
		}
	}
	if v := os.Getenv("CHANLUN_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("CHANLUN_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("CHANLUN_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("CHANLUN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Wrapf(apperrors.ErrConfigInvalid, format, args...)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	a := c.Analysis
	if a.MinBars < 3 {
		return invalid("analysis.min_bars must be at least 3, got %d", a.MinBars)
	}
	if a.MinFractalGap < 1 {
		return invalid("analysis.min_fractal_gap must be positive, got %d", a.MinFractalGap)
	}
	if a.DivergenceThreshold <= 0 || a.DivergenceThreshold >= 1 {
		return invalid("analysis.divergence_threshold must be in (0, 1), got %g", a.DivergenceThreshold)
	}
	if a.DivergenceWindow < 2 {
		return invalid("analysis.divergence_window must be at least 2, got %d", a.DivergenceWindow)
	}
	if a.Fast <= 0 || a.Slow <= 0 || a.Signal <= 0 {
		return invalid("analysis.fast, slow and signal must be positive")
	}
	if a.Fast >= a.Slow {
		return invalid("analysis.fast (%d) must be below analysis.slow (%d)", a.Fast, a.Slow)
	}
	switch a.MomentumSource {
	case "ema", "talib":
	default:
		return invalid("analysis.momentum_source must be 'ema' or 'talib', got %q", a.MomentumSource)
	}

	switch c.State.Backend {
	case "memory":
	case "file":
		if c.Storage.File.Path == "" {
			return invalid("storage.file.path is required for the file backend")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return invalid("storage.sqlite.path is required for the sqlite backend")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return invalid("storage.postgres.dsn is required for the postgres backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return invalid("storage.redis.addr is required for the redis backend")
		}
	default:
		return invalid("state.backend must be one of memory, file, sqlite, postgres, redis, got %q", c.State.Backend)
	}
	if c.State.HistoryLimit < 1 || c.State.HistoryLimit > 10 {
		return invalid("state.history_limit must be between 1 and 10, got %d", c.State.HistoryLimit)
	}

	switch c.Storage.SQLite.Driver {
	case "sqlite3", "sqlite":
	default:
		return invalid("storage.sqlite.driver must be 'sqlite3' or 'sqlite', got %q", c.Storage.SQLite.Driver)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	if c.Batch.Workers < 1 {
		return invalid("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	return nil
}

// Path returns the location of config.toml.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, "config.toml")
}

// TOML renders the effective configuration. Secrets are included.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}
