package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	serverAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "permafrost",
	Short: "Permafrost - long-horizon memory retention engine",
	Long: `Permafrost governs the lifecycle of agent memory: per-KB retention
policies, scheduled sweeps, a veto gate for deletions, and tiered
archival with integrity verification.

The service runs as a single process:
  - Per-KB daily retention sweeps with cron scheduling
  - Deletion approval workflow with a configurable veto window
  - Hot/Warm/Cold/Eternal tier storage with checksums and redundancy
  - Append-only audit trail of every retention action`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8700", "address of the running service (operator commands)")
}
