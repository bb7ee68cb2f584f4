package config

import (
	"fmt"
	"time"
)

// ConfigFieldType represents the type of a configuration field.
type ConfigFieldType string

const (
	FieldTypeString   ConfigFieldType = "string"
	FieldTypeInt      ConfigFieldType = "int"
	FieldTypeBool     ConfigFieldType = "bool"
	FieldTypeDuration ConfigFieldType = "duration"
	FieldTypeSecret   ConfigFieldType = "secret"
)

// ConfigFieldMeta holds metadata about a configuration field.
type ConfigFieldMeta struct {
	Type        ConfigFieldType `json:"type"`
	Description string          `json:"description,omitempty"`
	Default     any             `json:"default,omitempty"`
	Current     any             `json:"current,omitempty"`
	Sensitive   bool            `json:"sensitive,omitempty"`
	Options     []string        `json:"options,omitempty"`
}

// ConfigSectionMeta holds metadata about a configuration section.
type ConfigSectionMeta struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Fields      map[string]ConfigFieldMeta `json:"fields"`
}

// GetConfigSchema returns the configuration schema with defaults and the
// effective values of current. Secrets are masked.
func GetConfigSchema(current *Config, configPath string) map[string]any {
	defaults := Default()

	sections := map[string]ConfigSectionMeta{
		"database": {
			Name:        "Database",
			Description: "SQLite storage for plans, surveys, occurrences and events",
			Fields: map[string]ConfigFieldMeta{
				"path": {
					Type:        FieldTypeString,
					Description: "Path to SQLite database file",
					Default:     defaults.Database.Path,
					Current:     current.Database.Path,
				},
				"wal_mode": {
					Type:        FieldTypeBool,
					Description: "Enable WAL journal mode",
					Default:     defaults.Database.WALMode,
					Current:     current.Database.WALMode,
				},
				"busy_timeout": {
					Type:        FieldTypeDuration,
					Description: "How long a writer waits on a locked database",
					Default:     formatDuration(defaults.Database.BusyTimeout),
					Current:     formatDuration(current.Database.BusyTimeout),
				},
			},
		},
		"logging": {
			Name:        "Logging",
			Description: "Log output settings",
			Fields: map[string]ConfigFieldMeta{
				"level": {
					Type:        FieldTypeString,
					Description: "Minimum log level",
					Default:     defaults.Logging.Level,
					Current:     current.Logging.Level,
					Options:     []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"},
				},
				"format": {
					Type:        FieldTypeString,
					Description: "Log output format",
					Default:     defaults.Logging.Format,
					Current:     current.Logging.Format,
					Options:     []string{"json", "console"},
				},
			},
		},
		"scheduling": {
			Name:        "Scheduling",
			Description: "Request limits",
			Fields: map[string]ConfigFieldMeta{
				"max_window": {
					Type:        FieldTypeDuration,
					Description: "Longest window a request may span",
					Default:     formatDuration(defaults.Scheduling.MaxWindow),
					Current:     formatDuration(current.Scheduling.MaxWindow),
				},
				"max_client_data_bytes": {
					Type:        FieldTypeInt,
					Description: "Ceiling on summed client data per update batch",
					Default:     defaults.Scheduling.MaxClientDataBytes,
					Current:     current.Scheduling.MaxClientDataBytes,
				},
				"max_minimum_per_schedule": {
					Type:        FieldTypeInt,
					Description: "Largest minimum-per-schedule a caller may request",
					Default:     defaults.Scheduling.MaxMinimumPerSchedule,
					Current:     current.Scheduling.MaxMinimumPerSchedule,
				},
				"resolve_concurrency": {
					Type:        FieldTypeInt,
					Description: "Concurrent survey lookups per request",
					Default:     defaults.Scheduling.ResolveConcurrency,
					Current:     current.Scheduling.ResolveConcurrency,
				},
			},
		},
		"cache": {
			Name:        "Cache",
			Description: "Redis cache for published survey versions",
			Fields: map[string]ConfigFieldMeta{
				"enabled": {
					Type:    FieldTypeBool,
					Default: defaults.Cache.Enabled,
					Current: current.Cache.Enabled,
				},
				"addr": {
					Type:        FieldTypeString,
					Description: "Redis address (host:port)",
					Default:     defaults.Cache.Addr,
					Current:     current.Cache.Addr,
				},
				"password": {
					Type:      FieldTypeSecret,
					Current:   isSecretSet(current.Cache.Password),
					Sensitive: true,
				},
				"db": {
					Type:    FieldTypeInt,
					Default: defaults.Cache.DB,
					Current: current.Cache.DB,
				},
				"ttl": {
					Type:        FieldTypeDuration,
					Description: "How long a resolved version is cached",
					Default:     formatDuration(defaults.Cache.TTL),
					Current:     formatDuration(current.Cache.TTL),
				},
			},
		},
		"events": {
			Name:        "Events",
			Description: "Activity event bus",
			Fields: map[string]ConfigFieldMeta{
				"retention": {
					Type:        FieldTypeDuration,
					Description: "How long processed events are kept",
					Default:     formatDuration(defaults.Events.Retention),
					Current:     formatDuration(current.Events.Retention),
				},
				"process_interval": {
					Type:        FieldTypeDuration,
					Description: "How often pending events are processed",
					Default:     formatDuration(defaults.Events.ProcessInterval),
					Current:     formatDuration(current.Events.ProcessInterval),
				},
				"batch_size": {
					Type:    FieldTypeInt,
					Default: defaults.Events.BatchSize,
					Current: current.Events.BatchSize,
				},
			},
		},
		"metrics": {
			Name:        "Metrics",
			Description: "Prometheus exporter",
			Fields: map[string]ConfigFieldMeta{
				"enabled": {
					Type:    FieldTypeBool,
					Default: defaults.Metrics.Enabled,
					Current: current.Metrics.Enabled,
				},
				"addr": {
					Type:    FieldTypeString,
					Default: defaults.Metrics.Addr,
					Current: current.Metrics.Addr,
				},
				"path": {
					Type:    FieldTypeString,
					Default: defaults.Metrics.Path,
					Current: current.Metrics.Path,
				},
			},
		},
	}

	return map[string]any{
		"sections": sections,
		"path":     configPath,
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
	return d.String()
}

func isSecretSet(secret string) any {
	if secret == "" {
		return ""
	}
	return "***SET***"
}
