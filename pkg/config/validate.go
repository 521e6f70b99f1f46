package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "breaker.failure_window").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateBreaker(&cfg.Breaker, cfg.Limits.Kinds)...)
	errs = append(errs, validateAnalytics(&cfg.Analytics)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be redis or memory", cfg.Backend),
		})
	}
	if len(cfg.Addrs) == 0 {
		errs = append(errs, FieldError{
			Field:   "store.addrs",
			Message: "at least one store address is required",
		})
	}
	for i, addr := range cfg.Addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("store.addrs[%d]", i),
				Message: fmt.Sprintf("invalid address %q: must be host:port", addr),
			})
		}
	}
	if cfg.DB < 0 {
		errs = append(errs, FieldError{Field: "store.db", Message: "db must not be negative"})
	}
	if cfg.PoolSize < 0 {
		errs = append(errs, FieldError{Field: "store.pool_size", Message: "pool size must not be negative"})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.DialTimeout < 0 {
		errs = append(errs, FieldError{Field: "store", Message: "timeouts must not be negative"})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	// Sorted so the error order is stable
	names := make([]string, 0, len(cfg.Kinds))
	for name := range cfg.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind := cfg.Kinds[name]
		prefix := "limits.kinds." + name

		if name == "tokens" {
			errs = append(errs, FieldError{
				Field:   prefix,
				Message: `"tokens" is reserved for the token budget`,
			})
		}
		if strings.ContainsAny(name, ": ") {
			errs = append(errs, FieldError{
				Field:   prefix,
				Message: "kind name must not contain ':' or spaces",
			})
		}
		if kind.MaxRequests <= 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_requests",
				Message: "max requests must be positive",
			})
		}
		if kind.Window < time.Second {
			errs = append(errs, FieldError{
				Field:   prefix + ".window",
				Message: "window must be at least 1s",
			})
		}
	}

	t := &cfg.Tokens
	if t.DailyLimit <= 0 {
		errs = append(errs, FieldError{Field: "limits.tokens.daily_limit", Message: "daily limit must be positive"})
	}
	if t.MonthlyLimit <= 0 {
		errs = append(errs, FieldError{Field: "limits.tokens.monthly_limit", Message: "monthly limit must be positive"})
	}
	if t.MonthlyLimit > 0 && t.DailyLimit > t.MonthlyLimit {
		errs = append(errs, FieldError{
			Field:   "limits.tokens.daily_limit",
			Message: fmt.Sprintf("daily limit (%d) exceeds monthly limit (%d)", t.DailyLimit, t.MonthlyLimit),
		})
	}
	if t.DailyTTL < time.Second {
		errs = append(errs, FieldError{Field: "limits.tokens.daily_ttl", Message: "daily TTL must be at least 1s"})
	}
	if t.MonthlyTTL < time.Second {
		errs = append(errs, FieldError{Field: "limits.tokens.monthly_ttl", Message: "monthly TTL must be at least 1s"})
	}

	return errs
}

func validateBreaker(cfg *BreakerConfig, kinds map[string]KindConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold <= 0 {
		errs = append(errs, FieldError{Field: "breaker.failure_threshold", Message: "failure threshold must be positive"})
	}
	if cfg.FailureWindow <= 0 {
		errs = append(errs, FieldError{Field: "breaker.failure_window", Message: "failure window must be positive"})
	}
	if cfg.HalfOpenDelay <= 0 {
		errs = append(errs, FieldError{Field: "breaker.half_open_delay", Message: "half-open delay must be positive"})
	}
	for i, kind := range cfg.FailOpenKinds {
		if _, ok := kinds[kind]; !ok && kind != "tokens" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("breaker.fail_open_kinds[%d]", i),
				Message: fmt.Sprintf("unknown limit kind %q", kind),
			})
		}
	}

	return errs
}

func validateAnalytics(cfg *AnalyticsConfig) []FieldError {
	var errs []FieldError

	if cfg.Retention < time.Hour {
		errs = append(errs, FieldError{Field: "analytics.retention", Message: "retention must be at least 1h"})
	}
	if cfg.ReportTimeout <= 0 {
		errs = append(errs, FieldError{Field: "analytics.report_timeout", Message: "report timeout must be positive"})
	}
	if cfg.PruneTimeout <= 0 {
		errs = append(errs, FieldError{Field: "analytics.prune_timeout", Message: "prune timeout must be positive"})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "analytics.prune_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.PruneSchedule, err),
		})
	}
	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		errs = append(errs, FieldError{
			Field:   "analytics.archive.path",
			Message: "archive path is required when archiving is enabled",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: must be host:port", cfg.ListenAddress),
		})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 || cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server", Message: "timeouts must not be negative"})
	}
	if cfg.AdminRPS > 0 && cfg.AdminBurst <= 0 {
		errs = append(errs, FieldError{
			Field:   "server.admin_burst",
			Message: "admin burst must be positive when admin throttling is enabled",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	return errs
}
