package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific
// configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field
	// (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a
// configuration. It implements the error interface and provides access
// to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a
// ValidationError if any validation rules fail. All validation errors
// are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePolicies(cfg.Policies)...)
	errs = append(errs, validateArchival(&cfg.Archival)...)
	errs = append(errs, validateVeto(&cfg.Veto)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	// The cold key handle must resolve against the configured keys.
	if cfg.Archival.ColdKeyHandle != "" {
		if _, ok := cfg.Storage.EncryptionKeys[cfg.Archival.ColdKeyHandle]; !ok {
			errs = append(errs, FieldError{
				Field: "archival.cold_key_handle",
				Message: fmt.Sprintf("key handle %q not found in storage.encryption_keys",
					cfg.Archival.ColdKeyHandle),
			})
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q, expected host:port", cfg.ListenAddress),
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "must be >= 0",
		})
	}

	return errs
}

func validatePolicies(policies []PolicyConfig) []FieldError {
	var errs []FieldError

	if len(policies) == 0 {
		errs = append(errs, FieldError{
			Field:   "policies",
			Message: "at least one retention policy is required",
		})
		return errs
	}

	seen := make(map[string]bool, len(policies))
	for i, p := range policies {
		field := fmt.Sprintf("policies[%d]", i)

		if p.KBName == "" {
			errs = append(errs, FieldError{
				Field:   field + ".kb_name",
				Message: "kb name is required",
			})
			continue
		}
		if seen[p.KBName] {
			errs = append(errs, FieldError{
				Field:   field + ".kb_name",
				Message: fmt.Sprintf("duplicate policy for kb %q", p.KBName),
			})
		}
		seen[p.KBName] = true

		if p.RetentionDays < 0 {
			errs = append(errs, FieldError{
				Field:   field + ".retention_days",
				Message: "must be >= 0 (0 means never expires)",
			})
		}
	}

	return errs
}

func validateArchival(cfg *ArchivalConfig) []FieldError {
	var errs []FieldError

	if cfg.BatchSize < 1 {
		errs = append(errs, FieldError{
			Field:   "archival.batch_size",
			Message: "must be >= 1",
		})
	}
	if cfg.RedundancyFactor < 1 {
		errs = append(errs, FieldError{
			Field:   "archival.redundancy_factor",
			Message: "must be >= 1",
		})
	}
	if cfg.WarmAfterDays < 1 {
		errs = append(errs, FieldError{
			Field:   "archival.warm_after_days",
			Message: "must be >= 1",
		})
	}
	if cfg.ColdAfterDays <= cfg.WarmAfterDays {
		errs = append(errs, FieldError{
			Field:   "archival.cold_after_days",
			Message: "must be greater than warm_after_days",
		})
	}
	if cfg.ColdArchiveHorizonDays < 1 {
		errs = append(errs, FieldError{
			Field:   "archival.cold_archive_horizon_days",
			Message: "must be >= 1",
		})
	}
	if cfg.DedupBlockSize < 1 {
		errs = append(errs, FieldError{
			Field:   "archival.dedup_block_size",
			Message: "must be >= 1",
		})
	}

	return errs
}

func validateVeto(cfg *VetoConfig) []FieldError {
	var errs []FieldError

	if cfg.VetoWindowHours < 1 {
		errs = append(errs, FieldError{
			Field:   "veto.veto_window_hours",
			Message: "must be >= 1",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError

	schedules := []struct {
		field string
		expr  string
	}{
		{"scheduler.daily_schedule", cfg.DailySchedule},
		{"scheduler.weekly_schedule", cfg.WeeklySchedule},
		{"scheduler.monthly_schedule", cfg.MonthlySchedule},
		{"scheduler.annual_schedule", cfg.AnnualSchedule},
	}
	for _, s := range schedules {
		if _, err := cron.ParseStandard(s.expr); err != nil {
			errs = append(errs, FieldError{
				Field:   s.field,
				Message: fmt.Sprintf("invalid cron expression %q: %v", s.expr, err),
			})
		}
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory", "filesystem":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unknown backend %q, must be \"memory\" or \"filesystem\"", cfg.Backend),
		})
	}
	if cfg.Backend == "filesystem" && cfg.Root == "" {
		errs = append(errs, FieldError{
			Field:   "storage.root",
			Message: "root directory is required for the filesystem backend",
		})
	}

	for handle, key := range cfg.EncryptionKeys {
		field := fmt.Sprintf("storage.encryption_keys[%s]", handle)
		raw, err := hex.DecodeString(key)
		if err != nil {
			errs = append(errs, FieldError{
				Field:   field,
				Message: "key must be hex-encoded",
			})
			continue
		}
		if len(raw) != 32 {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("key must be 32 bytes (AES-256), got %d", len(raw)),
			})
		}
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("unknown backend %q, must be \"memory\" or \"sqlite\"", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" && cfg.SQLitePath == "" {
		errs = append(errs, FieldError{
			Field:   "audit.sqlite_path",
			Message: "database path is required for the sqlite backend",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q, must be debug, info, warn, or error", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q, must be json or text", cfg.Logging.Format),
		})
	}

	return errs
}

// DecodeEncryptionKeys converts the configured hex-encoded keys to raw
// key material for the archival codec. Call after Validate.
func DecodeEncryptionKeys(cfg *StorageConfig) map[string][]byte {
	keys := make(map[string][]byte, len(cfg.EncryptionKeys))
	for handle, key := range cfg.EncryptionKeys {
		raw, err := hex.DecodeString(key)
		if err != nil {
			continue
		}
		keys[handle] = raw
	}
	return keys
}
