package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lfariabr/excel-pilot-sub000/pkg/analytics"
	"github.com/lfariabr/excel-pilot-sub000/pkg/cli"
	"github.com/lfariabr/excel-pilot-sub000/pkg/server"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/health"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/metrics"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the limits server",
	Long: `Start the HTTP server with the specified configuration.

When analytics is enabled, the retention sweep runs on its cron schedule in
the same process.

Examples:
  # Start with defaults (Redis at 127.0.0.1:6379)
  guard serve

  # Start with a config file
  guard serve --config /etc/guard/guard.yaml

  # Override listen address
  guard serve --listen 0.0.0.0:8080

  # Validate config without starting the server
  guard serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	// Startup is not gated on Redis: the breaker covers an unreachable store.
	if err := a.manager.Ping(ctx); err != nil {
		a.logger.Warn("store not reachable at startup", "addrs", cfg.Store.Addrs, "error", err)
	}

	var scheduler *analytics.RetentionScheduler
	if a.analytics != nil {
		scheduler = analytics.NewRetentionScheduler(a.analytics,
			cfg.Analytics.PruneSchedule, cfg.Analytics.PruneTimeout, a.logger)
		if err := scheduler.Start(ctx); err != nil {
			a.Close(context.Background())
			return cli.NewConfigError("analytics.prune_schedule", err.Error())
		}
	}

	checker := health.New(0)
	checker.RegisterCheck("store", health.StoreCheck(a.manager))
	checker.RegisterCheck("breaker", health.BreakerCheck(a.breaker))

	opts := server.Options{
		Manager:   a.manager,
		Checker:   checker,
		Logger:    a.logger,
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}
	if cfg.Telemetry.Metrics.Enabled {
		opts.Gatherer = prometheus.Gatherer(a.registry)
		opts.MetricsPath = cfg.Telemetry.Metrics.Path
		opts.HTTPMetrics = metrics.NewHTTPMetrics(cfg.Telemetry.Metrics.Namespace, a.registry)
	}

	a.logger.Info("limits configured",
		"kinds", len(cfg.Limits.Kinds),
		"daily_token_limit", cfg.Limits.Tokens.DailyLimit,
		"monthly_token_limit", cfg.Limits.Tokens.MonthlyLimit,
		"analytics", cfg.Analytics.Enabled,
		"archive", a.archive != nil,
	)

	srv := server.NewServer(cfg.Server, opts)
	serveErr := srv.Start(ctx)

	if scheduler != nil {
		scheduler.Stop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.logger.Error("shutdown incomplete", "error", err)
	}

	return serveErr
}
