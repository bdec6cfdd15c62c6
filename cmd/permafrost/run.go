package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"permafrost-hq/permafrost/pkg/cli"
	"permafrost-hq/permafrost/pkg/config"
	"permafrost-hq/permafrost/pkg/server"
	"permafrost-hq/permafrost/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the retention service",
	Long: `Start the retention service with the specified configuration.

The service schedules per-KB retention sweeps, integrity verification,
and tier migration, and serves the operations API on the configured
address.

Examples:
  # Start with default config
  permafrost run

  # Start with custom config
  permafrost run --config /etc/permafrost/config.yaml

  # Override listen address
  permafrost run --listen 0.0.0.0:8700

  # Validate config without starting
  permafrost run --dry-run`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the service")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	if _, err := logging.Setup(cfg.Telemetry.Logging); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Permafrost v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Printf("✓ Configuration loaded (%d policies)\n", len(cfg.Policies))

	rt, err := buildRuntime(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.engine.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer rt.engine.Stop()
	fmt.Printf("✓ Scheduler started (%d tasks)\n", len(rt.engine.Scheduler().Tasks()))

	if rt.watcher != nil {
		go func() {
			if err := rt.watcher.Watch(ctx); err != nil {
				fmt.Printf("tamper watcher stopped: %v\n", err)
			}
		}()
		fmt.Println("✓ Tamper watcher running")
	}

	if cfg.Server.Enabled != nil && !*cfg.Server.Enabled {
		fmt.Println("Operations server disabled; running scheduler only")
		fmt.Println("\nPress Ctrl+C to stop")
		<-cli.SetupSignalHandler().Done()
		return nil
	}

	srv := server.NewServer(cfg.Server, rt.engine, rt.checker, rt.collector,
		server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate})

	fmt.Printf("✓ Operations server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/healthz\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	fmt.Println("\nPress Ctrl+C to stop")

	// Start blocks until a signal, context cancellation, or listen error.
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Println("✓ Service stopped")
	return nil
}
