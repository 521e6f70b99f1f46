package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "GUARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating. Unknown keys
// are rejected so that a misspelled limit does not silently fall back to
// its default.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and means all defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GUARD_SECTION_FIELD (e.g., GUARD_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefault()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// A variable that is set but cannot be parsed is an error.
func applyEnvOverrides(cfg *Config) error {
	e := envReader{}

	// Store overrides
	if val, ok := e.lookup("STORE_ADDRS"); ok {
		cfg.Store.Addrs = splitList(val)
	}
	e.str("STORE_BACKEND", &cfg.Store.Backend)
	e.str("STORE_USERNAME", &cfg.Store.Username)
	e.str("STORE_PASSWORD", &cfg.Store.Password)
	e.int("STORE_DB", &cfg.Store.DB)
	e.int("STORE_POOL_SIZE", &cfg.Store.PoolSize)
	e.duration("STORE_DIAL_TIMEOUT", &cfg.Store.DialTimeout)
	e.duration("STORE_READ_TIMEOUT", &cfg.Store.ReadTimeout)
	e.duration("STORE_WRITE_TIMEOUT", &cfg.Store.WriteTimeout)
	e.str("STORE_KEY_PREFIX", &cfg.Store.KeyPrefix)

	// Token budget overrides
	e.int64("LIMITS_TOKENS_DAILY_LIMIT", &cfg.Limits.Tokens.DailyLimit)
	e.int64("LIMITS_TOKENS_MONTHLY_LIMIT", &cfg.Limits.Tokens.MonthlyLimit)
	e.duration("LIMITS_TOKENS_DAILY_TTL", &cfg.Limits.Tokens.DailyTTL)
	e.duration("LIMITS_TOKENS_MONTHLY_TTL", &cfg.Limits.Tokens.MonthlyTTL)

	// Breaker overrides
	e.int("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	e.duration("BREAKER_FAILURE_WINDOW", &cfg.Breaker.FailureWindow)
	e.duration("BREAKER_HALF_OPEN_DELAY", &cfg.Breaker.HalfOpenDelay)
	if val, ok := e.lookup("BREAKER_FAIL_OPEN_KINDS"); ok {
		cfg.Breaker.FailOpenKinds = splitList(val)
	}

	// Analytics overrides
	e.bool("ANALYTICS_ENABLED", &cfg.Analytics.Enabled)
	e.duration("ANALYTICS_RETENTION", &cfg.Analytics.Retention)
	e.str("ANALYTICS_PRUNE_SCHEDULE", &cfg.Analytics.PruneSchedule)
	e.duration("ANALYTICS_PRUNE_TIMEOUT", &cfg.Analytics.PruneTimeout)
	e.duration("ANALYTICS_REPORT_TIMEOUT", &cfg.Analytics.ReportTimeout)
	e.bool("ANALYTICS_ARCHIVE_ENABLED", &cfg.Analytics.Archive.Enabled)
	e.str("ANALYTICS_ARCHIVE_PATH", &cfg.Analytics.Archive.Path)

	// Server overrides
	e.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	e.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.float("SERVER_ADMIN_RPS", &cfg.Server.AdminRPS)
	e.int("SERVER_ADMIN_BURST", &cfg.Server.AdminBurst)

	// Telemetry overrides
	e.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	e.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	e.bool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	e.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)

	if len(e.errs) > 0 {
		return ValidationError{Errors: e.errs}
	}
	return nil
}

// envReader collects parse failures instead of stopping at the first one.
type envReader struct {
	errs []FieldError
}

func (e *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(name, val string, err error) {
	e.errs = append(e.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid value %q: %v", val, err),
	})
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) int(name string, dst *int) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = i
}

func (e *envReader) int64(name string, dst *int64) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = i
}

func (e *envReader) float(name string, dst *float64) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = f
}

func (e *envReader) bool(name string, dst *bool) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	val, ok := e.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(name, val, err)
		return
	}
	*dst = d
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
