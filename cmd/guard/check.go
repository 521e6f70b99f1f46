package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lfariabr/excel-pilot-sub000/pkg/cli"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits"
)

var checkFlags struct {
	user string
	kind string
	tier string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Count one operation against a rate limit",
	Long: `Count one operation of --kind for --user and print the decision.

The command exits with status 3 when the request is denied. With --tier, a
denial is also recorded for violation analytics.

Examples:
  guard check --user u1 --kind messages
  guard check --user u1 --kind conversations --tier free -o json`,
	RunE: runCheck,
}

var chargeFlags struct {
	user      string
	tokens    int64
	estimated int64
	tier      string
}

var chargeCmd = &cobra.Command{
	Use:   "charge",
	Short: "Charge tokens against the daily and monthly budget",
	Long: `Charge --tokens for --user. Both budgets are charged or neither is.

With --estimated, only the positive difference between --tokens (the actual
usage) and the estimate is charged, as a post-hoc adjustment.

Examples:
  guard charge --user u1 --tokens 1200
  guard charge --user u1 --tokens 1500 --estimated 1200`,
	RunE: runCharge,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(chargeCmd)

	checkCmd.Flags().StringVarP(&checkFlags.user, "user", "u", "", "user ID (required)")
	checkCmd.Flags().StringVarP(&checkFlags.kind, "kind", "k", "", "limit kind (required)")
	checkCmd.Flags().StringVar(&checkFlags.tier, "tier", "", "record a violation with this tier on denial")
	checkCmd.MarkFlagRequired("user")
	checkCmd.MarkFlagRequired("kind")

	chargeCmd.Flags().StringVarP(&chargeFlags.user, "user", "u", "", "user ID (required)")
	chargeCmd.Flags().Int64VarP(&chargeFlags.tokens, "tokens", "t", 0, "tokens to charge (required)")
	chargeCmd.Flags().Int64Var(&chargeFlags.estimated, "estimated", -1, "previously charged estimate")
	chargeCmd.Flags().StringVar(&chargeFlags.tier, "tier", "", "record a violation with this tier on denial")
	chargeCmd.MarkFlagRequired("user")
	chargeCmd.MarkFlagRequired("tokens")
}

// decision is the printed form of a limits.Result.
type decision struct {
	limits.Result
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

func (d decision) Text() string {
	verdict := "allowed"
	if !d.Allowed {
		verdict = "denied"
	}
	s := fmt.Sprintf("%s: %s (remaining %d of %d, resets %s, source %s)",
		d.Kind, verdict, d.Remaining, d.Limit, d.ResetTime.Format(time.RFC3339), d.Source)
	if d.Reason != "" {
		s += "\nreason: " + d.Reason
	}
	if d.RetryAfterSeconds > 0 {
		s += fmt.Sprintf("\nretry after: %ds", d.RetryAfterSeconds)
	}
	return s
}

func newDecision(r limits.Result) decision {
	return decision{Result: r, RetryAfterSeconds: int64(r.RetryAfter(time.Now()) / time.Second)}
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withApp(cmd, "check", func(ctx context.Context, a *app) error {
		res, err := a.manager.CheckLimit(ctx, checkFlags.user, checkFlags.kind)
		if err != nil {
			return err
		}
		if !res.Allowed && checkFlags.tier != "" {
			a.manager.LogViolation(ctx, checkFlags.user, checkFlags.kind, checkFlags.tier)
		}
		return report(cmd, res)
	})
}

func runCharge(cmd *cobra.Command, args []string) error {
	return withApp(cmd, "charge", func(ctx context.Context, a *app) error {
		var (
			res limits.Result
			err error
		)
		if chargeFlags.estimated >= 0 {
			res, err = a.manager.AdjustCharge(ctx, chargeFlags.user, chargeFlags.estimated, chargeFlags.tokens)
		} else {
			res, err = a.manager.CheckAndCharge(ctx, chargeFlags.user, chargeFlags.tokens)
		}
		if err != nil {
			return err
		}
		if !res.Allowed && chargeFlags.tier != "" {
			a.manager.LogViolation(ctx, chargeFlags.user, res.Kind, chargeFlags.tier)
		}
		return report(cmd, res)
	})
}

func report(cmd *cobra.Command, res limits.Result) error {
	if err := output(cmd, newDecision(res)); err != nil {
		return err
	}
	if !res.Allowed {
		return fmt.Errorf("%s: %w", res.Kind, cli.ErrDenied)
	}
	return nil
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(cmd *cobra.Command, name string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return cli.NewCommandError(name, err)
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Analytics.ReportTimeout)
	defer cancel()
	a.Close(closeCtx)

	return runErr
}
