package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lfariabr/excel-pilot-sub000/pkg/analytics"
	"github.com/lfariabr/excel-pilot-sub000/pkg/cli"
)

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Query and maintain violation analytics",
}

var violationsFlags struct {
	user  string
	hours int
	limit int
}

var violationsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count a user's violations over the trailing hours",
	Example: `  guard violations count --user u1 --hours 24`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, "violations count", func(ctx context.Context, a *app) error {
			n := a.manager.UserViolationCount(ctx, violationsFlags.user, violationsFlags.hours)
			return output(cmd, &cli.Table{
				Headers: []string{"user_id", "hours", "count"},
				Rows: [][]string{{
					violationsFlags.user,
					strconv.Itoa(violationsFlags.hours),
					strconv.FormatInt(n, 10),
				}},
			})
		})
	},
}

var violationsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the most frequent violators",
	Example: `  guard violations top --hours 24 --limit 10
  guard violations top -o csv > violators.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, "violations top", func(ctx context.Context, a *app) error {
			top := a.manager.TopViolators(ctx, violationsFlags.hours, violationsFlags.limit)
			return output(cmd, violatorTable(top))
		})
	},
}

var violationsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove violation events older than the retention horizon",
	Long: `Run the retention sweep once. When the archive is enabled, expired
events are copied to SQLite before they are removed from Redis.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(violationsCmd)
	violationsCmd.AddCommand(violationsCountCmd, violationsTopCmd, violationsPruneCmd)

	violationsCmd.PersistentFlags().IntVar(&violationsFlags.hours, "hours", 24, "trailing window in hours")

	violationsCountCmd.Flags().StringVarP(&violationsFlags.user, "user", "u", "", "user ID (required)")
	violationsCountCmd.MarkFlagRequired("user")

	violationsTopCmd.Flags().IntVar(&violationsFlags.limit, "limit", 10, "maximum number of violators")
}

func violatorTable(top []analytics.Violator) *cli.Table {
	t := &cli.Table{Headers: []string{"user_id", "count", "tier"}}
	for _, v := range top {
		t.Rows = append(t.Rows, []string{v.UserID, strconv.FormatInt(v.Count, 10), v.Tier})
	}
	return t
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Analytics.Enabled {
		return cli.NewConfigError("analytics.enabled", "violation analytics is disabled")
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return cli.NewCommandError("violations prune", err)
	}
	defer a.Close(context.Background())

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	scheduler := analytics.NewRetentionScheduler(a.analytics, cfg.Analytics.PruneSchedule,
		cfg.Analytics.PruneTimeout, a.logger)
	res, err := scheduler.RunOnce(ctx)
	if err != nil {
		return cli.NewCommandError("violations prune", err)
	}

	return output(cmd, &cli.Table{
		Headers: []string{"keys_scanned", "events_removed", "events_archived", "buckets_removed"},
		Rows: [][]string{{
			strconv.FormatInt(res.KeysScanned, 10),
			strconv.FormatInt(res.EventsRemoved, 10),
			strconv.FormatInt(res.EventsArchived, 10),
			strconv.FormatInt(res.BucketsRemoved, 10),
		}},
	})
}

// withAnalytics is withApp for commands that need violation analytics.
func withAnalytics(cmd *cobra.Command, name string, fn func(ctx context.Context, a *app) error) error {
	return withApp(cmd, name, func(ctx context.Context, a *app) error {
		if a.analytics == nil {
			return cli.NewConfigError("analytics.enabled", "violation analytics is disabled")
		}
		if violationsFlags.hours <= 0 {
			return fmt.Errorf("--hours must be positive")
		}
		return fn(ctx, a)
	})
}
