package config

import "time"

// Config is the root configuration structure for Permafrost. It
// contains all configuration sections for the operations server,
// retention policies, archival, the veto gate, scheduling, storage,
// and telemetry.
type Config struct {
	// Server contains HTTP operations server configuration including
	// listen address and timeouts.
	Server ServerConfig `yaml:"server"`

	// Policies is the full retention policy set, one entry per
	// governed knowledge base. Loaded once at startup; changing a
	// policy requires a restart.
	Policies []PolicyConfig `yaml:"policies"`

	// Archival contains tier transition thresholds, batching, and
	// durability settings for the archival manager.
	Archival ArchivalConfig `yaml:"archival"`

	// Veto contains the deletion approval gate configuration.
	Veto VetoConfig `yaml:"veto"`

	// Scheduler contains the cron expressions for the scheduled
	// retention tasks.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Storage contains the tier storage backend and archival index
	// persistence configuration.
	Storage StorageConfig `yaml:"storage"`

	// Audit contains the retention event log configuration.
	Audit AuditConfig `yaml:"audit"`

	// Notification contains escalation and reminder delivery targets.
	Notification NotificationConfig `yaml:"notification"`

	// Telemetry contains observability configuration: logging and
	// metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP operations server.
type ServerConfig struct {
	// Enabled controls whether the operations server is started.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8700").
	// Default: "127.0.0.1:8700"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes
	// of the response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next
	// request when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown before in-flight requests are dropped.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// PolicyConfig is the retention policy for one knowledge base.
type PolicyConfig struct {
	// KBName is the knowledge base this policy governs. Required and
	// unique across the policy set.
	KBName string `yaml:"kb_name"`

	// RetentionDays is how long records are retained before becoming
	// deletion candidates. 0 means the KB never expires records by age.
	RetentionDays int `yaml:"retention_days"`

	// Immutable marks the KB append-only: no deletion path ever
	// succeeds, regardless of age or request.
	Immutable bool `yaml:"immutable"`

	// TieredStorage enables age-based tier transitions and long-term
	// cold archival for the KB.
	TieredStorage bool `yaml:"tiered_storage"`

	// ManualPurgeAllowed permits operator-initiated purges. Ignored
	// when Immutable is true.
	ManualPurgeAllowed bool `yaml:"manual_purge_allowed"`

	// AutoArchive enables the scheduled cold archival sweep.
	AutoArchive bool `yaml:"auto_archive"`

	// DeduplicationAllowed permits block-level deduplication during
	// cold-tier storage optimization.
	DeduplicationAllowed bool `yaml:"deduplication_allowed"`

	// RequiresApproval routes deletions through the veto gate. Ignored
	// when Immutable is true.
	RequiresApproval bool `yaml:"requires_approval"`
}

// ArchivalConfig contains archival manager settings.
type ArchivalConfig struct {
	// BatchSize is how many records one tier migration pass processes
	// per batch.
	// Default: 100
	BatchSize int `yaml:"batch_size"`

	// RedundancyFactor is the minimum number of independent stored
	// copies per durable record, primary included.
	// Default: 3
	RedundancyFactor int `yaml:"redundancy_factor"`

	// WarmAfterDays is the last-access age at which hot records move
	// to the warm tier.
	// Default: 365
	WarmAfterDays int `yaml:"warm_after_days"`

	// ColdAfterDays is the last-access age at which warm records move
	// to the cold tier.
	// Default: 1095
	ColdAfterDays int `yaml:"cold_after_days"`

	// ColdArchiveHorizonDays selects cold-tier records for long-term
	// archival by age.
	// Default: 3650 (10 years)
	ColdArchiveHorizonDays int `yaml:"cold_archive_horizon_days"`

	// ColdKeyHandle names the encryption key (in storage.encryption_keys)
	// used for cold and eternal tier payloads. Empty disables
	// encryption.
	ColdKeyHandle string `yaml:"cold_key_handle"`

	// DedupBlockSize is the block granularity for cold-tier
	// deduplication, in bytes.
	// Default: 4096
	DedupBlockSize int `yaml:"dedup_block_size"`

	// TamperWatch enables the filesystem tamper watcher over the tier
	// directories. Only meaningful with the filesystem backend.
	// Default: true
	TamperWatch *bool `yaml:"tamper_watch"`

	// TamperDebounce is how long the watcher coalesces filesystem
	// events before flagging records.
	// Default: 500ms
	TamperDebounce time.Duration `yaml:"tamper_debounce"`
}

// VetoConfig contains the deletion approval gate settings.
type VetoConfig struct {
	// Enabled turns the gate on. A disabled gate approves every
	// non-immutable deletion immediately.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// VetoWindowHours is the length of the approval window.
	// Default: 48
	VetoWindowHours int `yaml:"veto_window_hours"`

	// AutoApproveAfterWindow, when true, approves requests still
	// pending after the window expires. The default is false: requests
	// stay pending indefinitely without an explicit decision.
	AutoApproveAfterWindow bool `yaml:"auto_approve_after_window"`
}

// SchedulerConfig contains the cron expressions for the scheduled
// tasks. All expressions are standard five-field cron, evaluated in
// UTC.
type SchedulerConfig struct {
	// DailySchedule fires the per-KB retention sweep.
	// Default: "0 3 * * *"
	DailySchedule string `yaml:"daily_schedule"`

	// WeeklySchedule fires integrity verification.
	// Default: "0 4 * * 0"
	WeeklySchedule string `yaml:"weekly_schedule"`

	// MonthlySchedule fires tier migration and archival maintenance.
	// Default: "0 5 1 * *"
	MonthlySchedule string `yaml:"monthly_schedule"`

	// AnnualSchedule fires the policy review reminder.
	// Default: "0 6 1 1 *"
	AnnualSchedule string `yaml:"annual_schedule"`
}

// StorageConfig contains tier storage and index persistence settings.
type StorageConfig struct {
	// Backend selects the tier storage backend.
	// Options: "memory", "filesystem"
	// Default: "filesystem"
	Backend string `yaml:"backend"`

	// Root is the base directory for the filesystem backend's tier
	// directories.
	// Default: "data/tiers"
	Root string `yaml:"root"`

	// IndexPath is the SQLite file persisting the archival record
	// index across restarts. Empty keeps the index in memory only.
	// Default: "data/index.db"
	IndexPath string `yaml:"index_path"`

	// EncryptionKeys maps opaque key handles to hex-encoded 32-byte
	// AES-256 keys. Referenced by archival.cold_key_handle.
	EncryptionKeys map[string]string `yaml:"encryption_keys"`
}

// AuditConfig contains the retention event log settings.
type AuditConfig struct {
	// Backend selects the audit sink.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLitePath is the SQLite database file for the sqlite backend.
	// Default: "data/audit.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// NotificationConfig contains delivery targets for escalations and
// reminders. Delivery itself is out of scope; targets are opaque
// strings handed to the configured sink.
type NotificationConfig struct {
	// EscalateTo receives integrity failure escalations.
	// Default: "retention-oncall"
	EscalateTo string `yaml:"escalate_to"`

	// ReviewTo receives the annual policy review reminder.
	// Default: "retention-operators"
	ReviewTo string `yaml:"review_to"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}
