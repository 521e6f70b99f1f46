package config

import "time"

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default values for configuration fields.
const (
	// Store defaults
	DefaultStoreBackend      = BackendRedis
	DefaultStoreAddr         = "127.0.0.1:6379"
	DefaultStorePoolSize     = 10
	DefaultStoreDialTimeout  = 5 * time.Second
	DefaultStoreReadTimeout  = 500 * time.Millisecond
	DefaultStoreWriteTimeout = 500 * time.Millisecond

	// Token budget defaults
	DefaultDailyTokenLimit   = int64(50000)
	DefaultMonthlyTokenLimit = int64(1000000)
	DefaultDailyTTL          = 24 * time.Hour
	DefaultMonthlyTTL        = 30 * 24 * time.Hour

	// Breaker defaults
	DefaultFailureThreshold = 5
	DefaultFailureWindow    = 60 * time.Second
	DefaultHalfOpenDelay    = 30 * time.Second

	// Analytics defaults
	DefaultAnalyticsEnabled   = true
	DefaultAnalyticsRetention = 30 * 24 * time.Hour
	DefaultPruneSchedule      = "0 * * * *"
	DefaultPruneTimeout       = 5 * time.Minute
	DefaultReportTimeout      = 5 * time.Second
	DefaultArchivePath        = "data/violations.db"
	DefaultArchiveBusyTimeout = 5 * time.Second

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultAdminRPS        = 5.0
	DefaultAdminBurst      = 10

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "guard"
)

// DefaultKinds returns the built-in limit kind table.
func DefaultKinds() map[string]KindConfig {
	return map[string]KindConfig{
		"messages":      {MaxRequests: 30, Window: 60 * time.Second},
		"conversations": {MaxRequests: 5, Window: 60 * time.Second},
	}
}

// DefaultFailOpenKinds returns the kinds allowed while the breaker is open.
func DefaultFailOpenKinds() []string {
	return []string{"tokens"}
}

// NewDefault returns a fully defaulted configuration.
func NewDefault() *Config {
	cfg := newConfig()
	ApplyDefaults(cfg)
	return cfg
}

// newConfig returns a Config whose boolean switches hold their defaults, so
// that YAML which omits them leaves them on.
func newConfig() *Config {
	return &Config{
		Analytics: AnalyticsConfig{Enabled: DefaultAnalyticsEnabled},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyStoreDefaults(&cfg.Store)
	applyLimitsDefaults(&cfg.Limits)

	// Breaker defaults
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Breaker.FailureWindow == 0 {
		cfg.Breaker.FailureWindow = DefaultFailureWindow
	}
	if cfg.Breaker.HalfOpenDelay == 0 {
		cfg.Breaker.HalfOpenDelay = DefaultHalfOpenDelay
	}
	if cfg.Breaker.FailOpenKinds == nil {
		cfg.Breaker.FailOpenKinds = DefaultFailOpenKinds()
	}

	applyAnalyticsDefaults(&cfg.Analytics)
	applyServerDefaults(&cfg.Server)

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}

func applyStoreDefaults(s *StoreConfig) {
	if s.Backend == "" {
		s.Backend = DefaultStoreBackend
	}
	if len(s.Addrs) == 0 {
		s.Addrs = []string{DefaultStoreAddr}
	}
	if s.PoolSize == 0 {
		s.PoolSize = DefaultStorePoolSize
	}
	if s.DialTimeout == 0 {
		s.DialTimeout = DefaultStoreDialTimeout
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultStoreReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultStoreWriteTimeout
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	if len(l.Kinds) == 0 {
		l.Kinds = DefaultKinds()
	}

	t := &l.Tokens
	if t.DailyLimit == 0 {
		t.DailyLimit = DefaultDailyTokenLimit
	}
	if t.MonthlyLimit == 0 {
		t.MonthlyLimit = DefaultMonthlyTokenLimit
	}
	if t.DailyTTL == 0 {
		t.DailyTTL = DefaultDailyTTL
	}
	if t.MonthlyTTL == 0 {
		t.MonthlyTTL = DefaultMonthlyTTL
	}
}

func applyAnalyticsDefaults(a *AnalyticsConfig) {
	if a.Retention == 0 {
		a.Retention = DefaultAnalyticsRetention
	}
	if a.PruneSchedule == "" {
		a.PruneSchedule = DefaultPruneSchedule
	}
	if a.PruneTimeout == 0 {
		a.PruneTimeout = DefaultPruneTimeout
	}
	if a.ReportTimeout == 0 {
		a.ReportTimeout = DefaultReportTimeout
	}
	if a.Archive.Path == "" {
		a.Archive.Path = DefaultArchivePath
	}
	if a.Archive.BusyTimeout == 0 {
		a.Archive.BusyTimeout = DefaultArchiveBusyTimeout
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.AdminRPS == 0 {
		s.AdminRPS = DefaultAdminRPS
	}
	if s.AdminBurst == 0 {
		s.AdminBurst = DefaultAdminBurst
	}
}
