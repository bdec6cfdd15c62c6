package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"permafrost-hq/permafrost/pkg/cli"
)

// markerRow mirrors the eternal marker shape served by the operations
// API.
type markerRow struct {
	MemoryID string    `json:"memory_id"`
	KBName   string    `json:"kb_name"`
	MarkedBy string    `json:"marked_by"`
	MarkedAt time.Time `json:"marked_at"`
	Reason   string    `json:"reason,omitempty"`
}

var eternalFlags struct {
	by     string
	reason string
}

var eternalCmd = &cobra.Command{
	Use:   "eternal",
	Short: "Manage eternal markers on memory records",
}

var eternalMarkCmd = &cobra.Command{
	Use:   "mark <kb> <record-id>",
	Short: "Permanently exempt a record from age-based deletion",
	Long: `Mark one memory record as eternal. Eternal records are never
deleted by retention sweeps; the marker is permanent and audited.
Re-marking an already eternal record is a no-op.`,
	Args: cobra.ExactArgs(2),
	RunE: markEternal,
}

var eternalListCmd = &cobra.Command{
	Use:   "list <kb>",
	Short: "List the eternal markers of one KB",
	Args:  cobra.ExactArgs(1),
	RunE:  listEternal,
}

func init() {
	rootCmd.AddCommand(eternalCmd)
	eternalCmd.AddCommand(eternalMarkCmd)
	eternalCmd.AddCommand(eternalListCmd)

	eternalMarkCmd.Flags().StringVar(&eternalFlags.by, "by", "", "who marks the record eternal (required)")
	eternalMarkCmd.Flags().StringVar(&eternalFlags.reason, "reason", "", "why the record is kept forever")
	_ = eternalMarkCmd.MarkFlagRequired("by")
}

func markEternal(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"kb_name":   args[0],
		"memory_id": args[1],
		"marked_by": eternalFlags.by,
		"reason":    eternalFlags.reason,
	}

	var marker markerRow
	if err := newAPIClient().post("/api/v1/eternal", body, &marker); err != nil {
		return cli.NewCommandError("eternal mark", err)
	}

	fmt.Printf("✓ Record %s/%s marked eternal by %s\n", marker.KBName, marker.MemoryID, marker.MarkedBy)
	return nil
}

func listEternal(cmd *cobra.Command, args []string) error {
	var markers []markerRow
	if err := newAPIClient().get("/api/v1/eternal/"+args[0], &markers); err != nil {
		return cli.NewCommandError("eternal list", err)
	}

	table := cli.Table{
		Headers: []string{"RECORD", "MARKED_BY", "MARKED_AT", "REASON"},
	}
	for _, marker := range markers {
		table.Rows = append(table.Rows, []string{
			marker.MemoryID,
			marker.MarkedBy,
			marker.MarkedAt.UTC().Format(time.RFC3339),
			marker.Reason,
		})
	}
	return cli.NewFormatter(cli.OutputFormat(outputFormat)).FormatTo(os.Stdout, table)
}
