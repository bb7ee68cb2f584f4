// Package config provides configuration management for bridgesched.
package config

import (
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Events     EventsConfig     `mapstructure:"events"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (trace, debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`
}

// SchedulingConfig bounds what a single scheduling request may ask for.
type SchedulingConfig struct {
	// Longest window a current or history request may span
	MaxWindow time.Duration `mapstructure:"max_window"`

	// Ceiling on the summed client data of one update batch
	MaxClientDataBytes int `mapstructure:"max_client_data_bytes"`

	// Largest minimum-per-schedule a caller may request
	MaxMinimumPerSchedule int `mapstructure:"max_minimum_per_schedule"`

	// Concurrent survey lookups per request
	ResolveConcurrency int `mapstructure:"resolve_concurrency"`
}

// CacheConfig configures the Redis cache in front of survey lookups.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	// How long processed events are kept
	Retention time.Duration `mapstructure:"retention"`

	// How often pending events are processed
	ProcessInterval time.Duration `mapstructure:"process_interval"`

	// Pending events handled per pass
	BatchSize int `mapstructure:"batch_size"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}
