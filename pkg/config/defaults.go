package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultServerEnabled   = true
	DefaultListenAddress   = "127.0.0.1:8700"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Archival defaults
	DefaultBatchSize              = 100
	DefaultRedundancyFactor       = 3
	DefaultWarmAfterDays          = 365
	DefaultColdAfterDays          = 1095
	DefaultColdArchiveHorizonDays = 3650 // 10 years
	DefaultDedupBlockSize         = 4096
	DefaultTamperWatch            = true
	DefaultTamperDebounce         = 500 * time.Millisecond

	// Veto defaults
	DefaultVetoEnabled            = true
	DefaultVetoWindowHours        = 48
	DefaultAutoApproveAfterWindow = false

	// Scheduler defaults
	DefaultDailySchedule   = "0 3 * * *"
	DefaultWeeklySchedule  = "0 4 * * 0"
	DefaultMonthlySchedule = "0 5 1 * *"
	DefaultAnnualSchedule  = "0 6 1 1 *"

	// Storage defaults
	DefaultStorageBackend = "filesystem"
	DefaultStorageRoot    = "data/tiers"
	DefaultIndexPath      = "data/index.db"

	// Audit defaults
	DefaultAuditBackend     = "sqlite"
	DefaultAuditSQLitePath  = "data/audit.db"
	DefaultAuditBusyTimeout = 5 * time.Second

	// Notification defaults
	DefaultEscalateTo = "retention-oncall"
	DefaultReviewTo   = "retention-operators"

	// Telemetry defaults
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/metrics"
)

// ApplyDefaults fills unset configuration fields with default values.
// It is called automatically by LoadConfig before validation.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyArchivalDefaults(&cfg.Archival)
	applyVetoDefaults(&cfg.Veto)
	applySchedulerDefaults(&cfg.Scheduler)
	applyStorageDefaults(&cfg.Storage)
	applyAuditDefaults(&cfg.Audit)
	applyNotificationDefaults(&cfg.Notification)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Enabled == nil {
		cfg.Enabled = boolPtr(DefaultServerEnabled)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
}

func applyArchivalDefaults(cfg *ArchivalConfig) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RedundancyFactor == 0 {
		cfg.RedundancyFactor = DefaultRedundancyFactor
	}
	if cfg.WarmAfterDays == 0 {
		cfg.WarmAfterDays = DefaultWarmAfterDays
	}
	if cfg.ColdAfterDays == 0 {
		cfg.ColdAfterDays = DefaultColdAfterDays
	}
	if cfg.ColdArchiveHorizonDays == 0 {
		cfg.ColdArchiveHorizonDays = DefaultColdArchiveHorizonDays
	}
	if cfg.DedupBlockSize == 0 {
		cfg.DedupBlockSize = DefaultDedupBlockSize
	}
	if cfg.TamperWatch == nil {
		cfg.TamperWatch = boolPtr(DefaultTamperWatch)
	}
	if cfg.TamperDebounce == 0 {
		cfg.TamperDebounce = DefaultTamperDebounce
	}
}

func applyVetoDefaults(cfg *VetoConfig) {
	if cfg.Enabled == nil {
		cfg.Enabled = boolPtr(DefaultVetoEnabled)
	}
	if cfg.VetoWindowHours == 0 {
		cfg.VetoWindowHours = DefaultVetoWindowHours
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.DailySchedule == "" {
		cfg.DailySchedule = DefaultDailySchedule
	}
	if cfg.WeeklySchedule == "" {
		cfg.WeeklySchedule = DefaultWeeklySchedule
	}
	if cfg.MonthlySchedule == "" {
		cfg.MonthlySchedule = DefaultMonthlySchedule
	}
	if cfg.AnnualSchedule == "" {
		cfg.AnnualSchedule = DefaultAnnualSchedule
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}
	if cfg.Root == "" {
		cfg.Root = DefaultStorageRoot
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = DefaultIndexPath
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultAuditBackend
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = DefaultAuditSQLitePath
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultAuditBusyTimeout
	}
}

func applyNotificationDefaults(cfg *NotificationConfig) {
	if cfg.EscalateTo == "" {
		cfg.EscalateTo = DefaultEscalateTo
	}
	if cfg.ReviewTo == "" {
		cfg.ReviewTo = DefaultReviewTo
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Metrics.Enabled == nil {
		cfg.Metrics.Enabled = boolPtr(DefaultMetricsEnabled)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

func boolPtr(b bool) *bool { return &b }
