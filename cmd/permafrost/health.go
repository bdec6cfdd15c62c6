package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"permafrost-hq/permafrost/pkg/cli"
)

// healthRow mirrors the per-KB health shape served by the operations
// API.
type healthRow struct {
	KBName         string         `json:"kb_name"`
	TotalRecords   int            `json:"total_records"`
	PerTierCounts  map[string]int `json:"per_tier_counts"`
	LastRun        *time.Time     `json:"last_run,omitempty"`
	NextRun        *time.Time     `json:"next_run,omitempty"`
	PendingActions int            `json:"pending_actions"`
	HealthScore    int            `json:"health_score"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the per-KB retention health report",
	RunE:  showHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func showHealth(cmd *cobra.Command, args []string) error {
	var rows []healthRow
	if err := newAPIClient().get("/api/v1/retention/health", &rows); err != nil {
		return cli.NewCommandError("health", err)
	}

	table := cli.Table{
		Headers: []string{"KB", "RECORDS", "PENDING", "LAST_RUN", "NEXT_RUN", "SCORE"},
	}
	for _, row := range rows {
		table.Rows = append(table.Rows, []string{
			row.KBName,
			strconv.Itoa(row.TotalRecords),
			strconv.Itoa(row.PendingActions),
			formatRunTime(row.LastRun),
			formatRunTime(row.NextRun),
			strconv.Itoa(row.HealthScore),
		})
	}
	return cli.NewFormatter(cli.OutputFormat(outputFormat)).FormatTo(os.Stdout, table)
}
