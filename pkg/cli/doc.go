/*
Package cli provides command-line utilities for the permafrost command.

Output Formatting:

Commands render tabular results in text, JSON, or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, table); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx := cli.SetupSignalHandler()
	// ctx is cancelled when a shutdown signal arrives
*/
package cli
