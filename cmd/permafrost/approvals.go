package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"permafrost-hq/permafrost/pkg/cli"
)

// approvalRow mirrors the pending approval shape served by the
// operations API.
type approvalRow struct {
	ID          string    `json:"id"`
	KBName      string    `json:"kb_name"`
	RecordIDs   []string  `json:"record_ids"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
}

var approvalFlags struct {
	approver string
	reason   string
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review deletion requests parked in the veto gate",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deletion requests awaiting a decision",
	RunE:  listApprovals,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending deletion request",
	Long: `Approve a pending deletion request. The deletion executes
immediately and the approval is recorded in the audit trail.`,
	Args: cobra.ExactArgs(1),
	RunE: approveRequest,
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Veto a pending deletion request",
	Long: `Veto a pending deletion request. Nothing is deleted; the veto is
recorded in the audit trail with the given reason.`,
	Args: cobra.ExactArgs(1),
	RunE: denyRequest,
}

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)

	approvalsApproveCmd.Flags().StringVar(&approvalFlags.approver, "approver", "", "who approves the deletion (required)")
	_ = approvalsApproveCmd.MarkFlagRequired("approver")

	approvalsDenyCmd.Flags().StringVar(&approvalFlags.approver, "approver", "", "who vetoes the deletion (required)")
	approvalsDenyCmd.Flags().StringVar(&approvalFlags.reason, "reason", "", "why the deletion is vetoed")
	_ = approvalsDenyCmd.MarkFlagRequired("approver")
}

func listApprovals(cmd *cobra.Command, args []string) error {
	var pending []approvalRow
	if err := newAPIClient().get("/api/v1/approvals", &pending); err != nil {
		return cli.NewCommandError("approvals list", err)
	}

	table := cli.Table{
		Headers: []string{"ID", "KB", "RECORDS", "REQUESTED_BY", "REQUESTED_AT", "EXPIRES_AT"},
	}
	for _, request := range pending {
		table.Rows = append(table.Rows, []string{
			request.ID,
			request.KBName,
			strconv.Itoa(len(request.RecordIDs)),
			request.RequestedBy,
			request.RequestedAt.UTC().Format(time.RFC3339),
			request.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return cli.NewFormatter(cli.OutputFormat(outputFormat)).FormatTo(os.Stdout, table)
}

func approveRequest(cmd *cobra.Command, args []string) error {
	body := map[string]string{"approver": approvalFlags.approver}

	var result struct {
		RecordsPurged int      `json:"records_purged"`
		Errors        []string `json:"errors,omitempty"`
	}
	if err := newAPIClient().post("/api/v1/approvals/"+args[0]+"/approve", body, &result); err != nil {
		return cli.NewCommandError("approvals approve", err)
	}

	fmt.Printf("✓ Request %s approved: %d records purged\n", args[0], result.RecordsPurged)
	for _, msg := range result.Errors {
		fmt.Printf("  ✗ %s\n", msg)
	}
	return nil
}

func denyRequest(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"approver": approvalFlags.approver,
		"reason":   approvalFlags.reason,
	}
	if err := newAPIClient().post("/api/v1/approvals/"+args[0]+"/deny", body, nil); err != nil {
		return cli.NewCommandError("approvals deny", err)
	}

	fmt.Printf("✓ Request %s vetoed\n", args[0])
	return nil
}
