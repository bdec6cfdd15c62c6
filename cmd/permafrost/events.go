package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"permafrost-hq/permafrost/pkg/cli"
	"permafrost-hq/permafrost/pkg/config"
	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/audit"
)

var eventsFlags struct {
	kb     string
	action string
	since  string
	limit  int
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the retention audit trail",
	Long: `Query retention events from the configured audit log.

Reads the audit database directly; the service does not need to be
running. With the memory audit backend there is nothing to query.

Examples:
  # Last 50 events
  permafrost events --limit 50

  # Purges in one KB
  permafrost events --kb project-kb --action purge

  # Everything since a timestamp
  permafrost events --since 2026-08-01T00:00:00Z`,
	RunE: queryEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVar(&eventsFlags.kb, "kb", "", "filter by knowledge base")
	eventsCmd.Flags().StringVar(&eventsFlags.action, "action", "", "filter by action (purge, veto, archive, ...)")
	eventsCmd.Flags().StringVar(&eventsFlags.since, "since", "", "inclusive lower bound, RFC 3339")
	eventsCmd.Flags().IntVar(&eventsFlags.limit, "limit", 100, "maximum events to return (0 = all)")
}

func queryEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	if cfg.Audit.Backend != "sqlite" {
		return cli.NewConfigError("audit.backend",
			fmt.Sprintf("events requires the sqlite audit backend, configured backend is %q", cfg.Audit.Backend))
	}

	log, err := audit.NewSQLiteLog(&audit.SQLiteConfig{
		Path:        cfg.Audit.SQLitePath,
		BusyTimeout: cfg.Audit.BusyTimeout,
	})
	if err != nil {
		return cli.NewCommandError("events", err)
	}
	defer log.Close()

	query := &audit.Query{
		KBName: eventsFlags.kb,
		Action: retention.Action(eventsFlags.action),
		Limit:  eventsFlags.limit,
	}
	if eventsFlags.since != "" {
		since, err := time.Parse(time.RFC3339, eventsFlags.since)
		if err != nil {
			return cli.NewConfigError("since", fmt.Sprintf("not an RFC 3339 timestamp: %v", err))
		}
		query.StartTime = &since
	}

	events, err := log.Query(context.Background(), query)
	if err != nil {
		return cli.NewCommandError("events", err)
	}

	table := cli.Table{
		Headers: []string{"TIMESTAMP", "ACTION", "KB", "RECORDS", "PERFORMED_BY", "APPROVED_BY"},
	}
	for _, event := range events {
		table.Rows = append(table.Rows, []string{
			event.Timestamp.UTC().Format(time.RFC3339),
			string(event.Action),
			event.KBName,
			strconv.Itoa(event.AffectedRecords),
			event.PerformedBy,
			event.ApprovedBy,
		})
	}
	return cli.NewFormatter(cli.OutputFormat(outputFormat)).FormatTo(os.Stdout, table)
}
