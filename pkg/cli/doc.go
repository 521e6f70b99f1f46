/*
Package cli provides helpers shared by the guard commands.

Output Formatting:

Results can be written as text, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Tabular results use Table, which renders aligned in text mode, as an array
of objects in JSON mode and as rows in CSV mode.

Exit Codes:

ExitCode maps command errors to exit codes. A denied check exits with
ExitDenied, a failed readiness probe with ExitUnready and a configuration
problem with ExitConfig.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
