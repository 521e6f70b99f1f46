package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lfariabr/excel-pilot-sub000/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "guard",
	Short: "Guard - per-user rate limits and token budgets",
	Long: `Guard enforces fixed-window rate limits and daily/monthly token budgets
per user, backed by Redis.

A circuit breaker protects Redis: while it is open, rate limits fail closed
and token budgets fail open. Denials can be recorded for violation analytics.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
}

// output writes a command result in the selected format.
func output(cmd *cobra.Command, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}
