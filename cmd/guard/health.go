package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lfariabr/excel-pilot-sub000/pkg/cli"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check store connectivity and breaker state",
	Long: `Run the readiness checks from this process: ping the store and report the
breaker state. Exits with status 4 when a check fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "health", func(ctx context.Context, a *app) error {
			checker := health.New(a.cfg.Store.DialTimeout)
			checker.RegisterCheck("store", health.StoreCheck(a.manager))
			checker.RegisterCheck("breaker", health.BreakerCheck(a.breaker))

			status := checker.CheckReadiness(ctx)
			if err := output(cmd, readiness(status)); err != nil {
				return err
			}
			if status.Status != "ready" {
				return cli.ErrUnready
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// readiness prints a health.HealthStatus one check per line.
type readiness health.HealthStatus

func (r readiness) Text() string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(r.Status)
	for _, name := range names {
		c := r.Checks[name]
		fmt.Fprintf(&sb, "\n  %s: %s (%.2fms)", name, c.Status, c.DurationMS)
		if c.Message != "" {
			fmt.Fprintf(&sb, " - %s", c.Message)
		}
	}
	return sb.String()
}
