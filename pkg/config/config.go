package config

import "time"

// Config is the root configuration structure for the limits service.
// Every section is static: it is loaded once at process start.
type Config struct {
	// Store contains the Redis connection shared by the limiters and analytics.
	Store StoreConfig `yaml:"store"`

	// Limits contains the rate limit kinds and the token budget.
	Limits LimitsConfig `yaml:"limits"`

	// Breaker contains circuit breaker thresholds and fallback policy.
	Breaker BreakerConfig `yaml:"breaker"`

	// Analytics contains violation analytics retention and archiving.
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Server contains the HTTP listener configuration.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig contains configuration for the Redis counter store.
type StoreConfig struct {
	// Backend selects the counter store: "redis" or "memory". The memory
	// backend keeps counters in process, so limits are per replica and
	// violation analytics are unavailable.
	// Default: "redis"
	Backend string `yaml:"backend"`

	// Addrs lists Redis endpoints. One address connects to a single node,
	// several to a cluster.
	// Default: ["127.0.0.1:6379"]
	Addrs []string `yaml:"addrs"`

	// Username and Password authenticate against Redis ACLs.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DB selects the logical database. Ignored for clusters.
	DB int `yaml:"db"`

	// PoolSize is the maximum number of socket connections per node.
	// Default: 10
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds establishing new connections.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout and WriteTimeout bound each command. A timed out command
	// counts as a breaker failure.
	// Default: 500ms
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// KeyPrefix is prepended to every key, e.g. "guard:".
	KeyPrefix string `yaml:"key_prefix"`
}

// LimitsConfig contains the limit kind table and token budget.
type LimitsConfig struct {
	// Kinds maps a limit kind name to its fixed window.
	// Default: messages 30/60s, conversations 5/60s
	Kinds map[string]KindConfig `yaml:"kinds"`

	// Tokens configures the daily and monthly token budget.
	Tokens TokensConfig `yaml:"tokens"`
}

// KindConfig is one fixed-window rate limit.
type KindConfig struct {
	MaxRequests int64         `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// TokensConfig configures the dual-horizon token budget.
type TokensConfig struct {
	// Default: 50000
	DailyLimit int64 `yaml:"daily_limit"`

	// Default: 1000000
	MonthlyLimit int64 `yaml:"monthly_limit"`

	// Default: 24h
	DailyTTL time.Duration `yaml:"daily_ttl"`

	// Default: 720h
	MonthlyTTL time.Duration `yaml:"monthly_ttl"`
}

// BreakerConfig contains circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within FailureWindow that
	// opens the breaker.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// Default: 60s
	FailureWindow time.Duration `yaml:"failure_window"`

	// HalfOpenDelay is how long the breaker stays open before probing.
	// Default: 30s
	HalfOpenDelay time.Duration `yaml:"half_open_delay"`

	// FailOpenKinds lists limit kinds that are allowed while the breaker is
	// open. Every other kind is denied.
	// Default: ["tokens"]
	FailOpenKinds []string `yaml:"fail_open_kinds"`
}

// AnalyticsConfig contains violation analytics configuration.
type AnalyticsConfig struct {
	// Enabled turns violation logging and the retention sweep on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Retention is how long violation events are kept.
	// Default: 720h
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression for the retention sweep.
	// Default: "0 * * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// PruneTimeout bounds a single sweep.
	// Default: 5m
	PruneTimeout time.Duration `yaml:"prune_timeout"`

	// ReportTimeout bounds a detached violation report.
	// Default: 5s
	ReportTimeout time.Duration `yaml:"report_timeout"`

	// Archive keeps pruned events in SQLite.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the SQLite violation archive.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// Default: "data/violations.db"
	Path string `yaml:"path"`

	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminRPS and AdminBurst throttle the analytics and readiness
	// endpoints. A negative AdminRPS disables throttling.
	// Default: 5 rps, burst 10
	AdminRPS   float64 `yaml:"admin_rps"`
	AdminBurst int     `yaml:"admin_burst"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is one of json, text, console.
	// Default: "json"
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "guard"
	Namespace string `yaml:"namespace"`
}
