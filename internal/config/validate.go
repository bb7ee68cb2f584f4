package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateScheduling(&cfg.Scheduling)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateScheduling(cfg *SchedulingConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.MaxWindow < time.Hour {
		errs = append(errs, ValidationError{
			Field:   "scheduling.max_window",
			Message: "must be at least 1 hour",
		})
	}

	if cfg.MaxClientDataBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduling.max_client_data_bytes",
			Message: "must be positive",
		})
	}

	if cfg.MaxMinimumPerSchedule < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduling.max_minimum_per_schedule",
			Message: "cannot be negative",
		})
	}

	if cfg.ResolveConcurrency < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduling.resolve_concurrency",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateCache(cfg *CacheConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "cache.addr",
			Message: "required when cache is enabled",
		})
	}

	if cfg.TTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.ttl",
			Message: "must be positive",
		})
	}

	if cfg.DB < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.db",
			Message: "cannot be negative",
		})
	}

	return errs
}

func validateEvents(cfg *EventsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.ProcessInterval < 10*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "events.process_interval",
			Message: "must be at least 10ms",
		})
	}

	if cfg.Retention < time.Minute {
		errs = append(errs, ValidationError{
			Field:   "events.retention",
			Message: "must be at least 1 minute",
		})
	}

	if cfg.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "events.batch_size",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.addr",
			Message: "required when metrics are enabled",
		})
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "must start with '/'",
		})
	}

	return errs
}
