package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified
// path. It applies default values, validates the configuration, and
// returns any errors. The configuration is not modified by environment
// variables; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Environment variables follow
// the naming convention PERMAFROST_SECTION_FIELD and always take
// precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Policies are deliberately not overridable from the
// environment: the policy set is file-only and restart-bound.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("PERMAFROST_SERVER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Server.Enabled = &b
		}
	}
	if val := os.Getenv("PERMAFROST_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("PERMAFROST_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("PERMAFROST_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("PERMAFROST_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}

	// Archival overrides
	if val := os.Getenv("PERMAFROST_ARCHIVAL_BATCH_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Archival.BatchSize = i
		}
	}
	if val := os.Getenv("PERMAFROST_ARCHIVAL_REDUNDANCY_FACTOR"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Archival.RedundancyFactor = i
		}
	}
	if val := os.Getenv("PERMAFROST_ARCHIVAL_COLD_KEY_HANDLE"); val != "" {
		cfg.Archival.ColdKeyHandle = val
	}

	// Veto overrides
	if val := os.Getenv("PERMAFROST_VETO_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Veto.Enabled = &b
		}
	}
	if val := os.Getenv("PERMAFROST_VETO_WINDOW_HOURS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Veto.VetoWindowHours = i
		}
	}
	if val := os.Getenv("PERMAFROST_VETO_AUTO_APPROVE_AFTER_WINDOW"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Veto.AutoApproveAfterWindow = b
		}
	}

	// Scheduler overrides
	if val := os.Getenv("PERMAFROST_SCHEDULER_DAILY_SCHEDULE"); val != "" {
		cfg.Scheduler.DailySchedule = val
	}
	if val := os.Getenv("PERMAFROST_SCHEDULER_WEEKLY_SCHEDULE"); val != "" {
		cfg.Scheduler.WeeklySchedule = val
	}
	if val := os.Getenv("PERMAFROST_SCHEDULER_MONTHLY_SCHEDULE"); val != "" {
		cfg.Scheduler.MonthlySchedule = val
	}
	if val := os.Getenv("PERMAFROST_SCHEDULER_ANNUAL_SCHEDULE"); val != "" {
		cfg.Scheduler.AnnualSchedule = val
	}

	// Storage overrides
	if val := os.Getenv("PERMAFROST_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("PERMAFROST_STORAGE_ROOT"); val != "" {
		cfg.Storage.Root = val
	}
	if val := os.Getenv("PERMAFROST_STORAGE_INDEX_PATH"); val != "" {
		cfg.Storage.IndexPath = val
	}

	// Audit overrides
	if val := os.Getenv("PERMAFROST_AUDIT_BACKEND"); val != "" {
		cfg.Audit.Backend = val
	}
	if val := os.Getenv("PERMAFROST_AUDIT_SQLITE_PATH"); val != "" {
		cfg.Audit.SQLitePath = val
	}

	// Notification overrides
	if val := os.Getenv("PERMAFROST_NOTIFICATION_ESCALATE_TO"); val != "" {
		cfg.Notification.EscalateTo = val
	}
	if val := os.Getenv("PERMAFROST_NOTIFICATION_REVIEW_TO"); val != "" {
		cfg.Notification.ReviewTo = val
	}

	// Telemetry overrides
	if val := os.Getenv("PERMAFROST_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("PERMAFROST_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("PERMAFROST_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
}
