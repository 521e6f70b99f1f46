package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lfariabr/excel-pilot-sub000/pkg/analytics"
	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
	"github.com/lfariabr/excel-pilot-sub000/pkg/cli"
	"github.com/lfariabr/excel-pilot-sub000/pkg/config"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/budget"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/ratelimit"
	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/logging"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/metrics"
)

// app holds the components every command shares.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    redis.UniversalClient
	memory    *store.MemoryStore
	registry  *prometheus.Registry
	metrics   *limits.Metrics
	breaker   *breaker.Breaker
	analytics *analytics.ViolationAnalytics
	archive   *analytics.Archive
	manager   *limits.Manager
}

// loadConfig reads --config with GUARD_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) && len(verr.Errors) > 0 {
			return nil, cli.NewConfigError(verr.Errors[0].Field, err.Error())
		}
		return nil, cli.NewConfigError("config", err.Error())
	}
	return cfg, nil
}

// newApp wires the store, breaker, analytics and manager from cfg. The
// archive is only opened when withArchive is set, so one-shot commands do
// not touch the SQLite file.
func newApp(cfg *config.Config, withArchive bool) (*app, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	a.registry = metrics.NewRegistry(true)
	a.metrics = limits.NewMetrics(cfg.Telemetry.Metrics.Namespace, a.registry)

	a.breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		HalfOpenDelay:    cfg.Breaker.HalfOpenDelay,
		FailOpenKinds:    cfg.Breaker.FailOpenKinds,
		OnStateChange:    a.metrics.BreakerStateChanged,
		Logger:           logger,
	})

	var counters store.AtomicCounterStore
	if cfg.Store.Backend == config.BackendMemory {
		a.memory = store.NewMemoryStore(store.MemoryStoreConfig{})
		counters = a.memory
		if cfg.Analytics.Enabled {
			logger.Warn("violation analytics disabled: memory backend has no sorted sets",
				"backend", cfg.Store.Backend)
		}
	} else {
		if err := a.connectRedis(withArchive); err != nil {
			return nil, err
		}
		counters = store.NewRedisStore(a.client, store.WithKeyPrefix(cfg.Store.KeyPrefix))
	}

	kinds := make(map[string]ratelimit.KindConfig, len(cfg.Limits.Kinds))
	for name, k := range cfg.Limits.Kinds {
		kinds[name] = ratelimit.KindConfig{MaxRequests: k.MaxRequests, Window: k.Window}
	}

	a.manager = limits.NewManager(limits.Config{
		Store:     counters,
		Breaker:   a.breaker,
		Analytics: a.analytics,
		Kinds:     kinds,
		Tokens: budget.Config{
			DailyLimit:   cfg.Limits.Tokens.DailyLimit,
			MonthlyLimit: cfg.Limits.Tokens.MonthlyLimit,
			DailyTTL:     cfg.Limits.Tokens.DailyTTL,
			MonthlyTTL:   cfg.Limits.Tokens.MonthlyTTL,
		},
		ReportTimeout: cfg.Analytics.ReportTimeout,
		Metrics:       a.metrics,
		Logger:        logger,
	})

	return a, nil
}

// connectRedis creates the Redis client and, when enabled, the analytics
// component sharing it.
func (a *app) connectRedis(withArchive bool) error {
	cfg := a.cfg
	a.client = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Store.Addrs,
		Username:     cfg.Store.Username,
		Password:     cfg.Store.Password,
		DB:           cfg.Store.DB,
		PoolSize:     cfg.Store.PoolSize,
		DialTimeout:  cfg.Store.DialTimeout,
		ReadTimeout:  cfg.Store.ReadTimeout,
		WriteTimeout: cfg.Store.WriteTimeout,
		// Retries would amplify load on a struggling store; the breaker
		// handles failures instead.
		MaxRetries: -1,
	})

	if cfg.Analytics.Enabled {
		opts := []analytics.Option{
			analytics.WithKeyPrefix(cfg.Store.KeyPrefix),
			analytics.WithRetention(cfg.Analytics.Retention),
			analytics.WithObserver(a.metrics),
			analytics.WithLogger(a.logger),
		}
		if withArchive && cfg.Analytics.Archive.Enabled {
			var err error
			a.archive, err = analytics.OpenArchive(analytics.ArchiveConfig{
				Path:        cfg.Analytics.Archive.Path,
				BusyTimeout: cfg.Analytics.Archive.BusyTimeout,
			})
			if err != nil {
				a.client.Close()
				return fmt.Errorf("failed to open violation archive: %w", err)
			}
			opts = append(opts, analytics.WithArchive(a.archive))
		}
		a.analytics = analytics.New(a.client, a.breaker, opts...)
	}

	return nil
}

// Close drains violation reports and releases connections.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining violation reports: %w", err))
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing archive: %w", err))
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store client: %w", err))
		}
	}
	if a.memory != nil {
		a.memory.Close()
	}
	return errors.Join(errs...)
}
