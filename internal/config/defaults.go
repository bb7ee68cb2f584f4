package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "bridgesched.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Scheduling defaults.
	DefaultMaxWindow             = 15 * 24 * time.Hour
	DefaultMaxClientDataBytes    = 64 * 1024
	DefaultMaxMinimumPerSchedule = 5
	DefaultResolveConcurrency    = 8

	// Cache defaults.
	DefaultCacheAddr = "localhost:6379"
	DefaultCacheTTL  = 5 * time.Minute

	// Events defaults.
	DefaultEventRetention       = 7 * 24 * time.Hour
	DefaultEventProcessInterval = time.Second
	DefaultEventBatchSize       = 100

	// Metrics defaults.
	DefaultMetricsAddr = "localhost:9464"
	DefaultMetricsPath = "/metrics"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Scheduling: SchedulingConfig{
			MaxWindow:             DefaultMaxWindow,
			MaxClientDataBytes:    DefaultMaxClientDataBytes,
			MaxMinimumPerSchedule: DefaultMaxMinimumPerSchedule,
			ResolveConcurrency:    DefaultResolveConcurrency,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    DefaultCacheAddr,
			TTL:     DefaultCacheTTL,
		},
		Events: EventsConfig{
			Retention:       DefaultEventRetention,
			ProcessInterval: DefaultEventProcessInterval,
			BatchSize:       DefaultEventBatchSize,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
			Path:    DefaultMetricsPath,
		},
	}
}
