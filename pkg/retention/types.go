package retention

import (
	"context"
	"time"
)

// Tier is a storage class representing decreasing access frequency and
// increasing durability. Records only ever advance Hot -> Warm -> Cold;
// Eternal is a one-way, policy-gated state for immutable KBs and
// eternal-marked records, never entered by age-based transition.
type Tier string

const (
	// TierHot holds recently accessed records with no archival
	// optimization applied.
	TierHot Tier = "hot"
	// TierWarm holds aging records with light compression applied.
	TierWarm Tier = "warm"
	// TierCold holds rarely accessed records with best-effort
	// compression and encryption applied.
	TierCold Tier = "cold"
	// TierEternal holds records permanently excluded from deletion.
	TierEternal Tier = "eternal"
)

// tierRank orders the age-based tiers. Eternal is outside the order:
// it is never a transition target for age-based migration.
var tierRank = map[Tier]int{
	TierHot:  0,
	TierWarm: 1,
	TierCold: 2,
}

// ValidTier reports whether t is a known storage tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierEternal:
		return true
	}
	return false
}

// TierAdvances reports whether moving from -> to is a forward move in
// the Hot -> Warm -> Cold order. Moves involving Eternal are never
// age-based advances.
func TierAdvances(from, to Tier) bool {
	fromRank, ok := tierRank[from]
	if !ok {
		return false
	}
	toRank, ok := tierRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Policy is the immutable retention policy for one KB. Policies are
// loaded once at startup and never change for the lifetime of the
// process; a policy change requires a restart so that it cannot race
// an in-flight retention run.
type Policy struct {
	// KBName is the knowledge base this policy governs.
	KBName string `json:"kb_name"`

	// RetentionDays is the number of days a record is retained before
	// it becomes a deletion candidate. 0 means the KB never expires
	// records by age.
	RetentionDays int `json:"retention_days"`

	// Immutable marks the KB append-only. No deletion path ever
	// succeeds for an immutable KB, regardless of age or request.
	Immutable bool `json:"immutable"`

	// TieredStorage enables age-based tier transitions and long-term
	// cold archival for the KB.
	TieredStorage bool `json:"tiered_storage"`

	// ManualPurgeAllowed permits operator-initiated purges. Meaningless
	// (treated as false) when Immutable is true.
	ManualPurgeAllowed bool `json:"manual_purge_allowed"`

	// AutoArchive enables the scheduled archival sweep for the KB.
	AutoArchive bool `json:"auto_archive"`

	// DeduplicationAllowed permits block-level deduplication during
	// cold-tier storage optimization.
	DeduplicationAllowed bool `json:"deduplication_allowed"`

	// RequiresApproval routes deletions through the veto gate.
	// Meaningless (treated as false) when Immutable is true.
	RequiresApproval bool `json:"requires_approval"`
}

// NeverExpires reports whether age-based deletion is disabled for the
// policy, either via the immutable flag or the 0-day sentinel.
func (p *Policy) NeverExpires() bool {
	return p.Immutable || p.RetentionDays == 0
}

// DeletionRequiresApproval reports whether deletions under this policy
// must pass the veto gate. Immutable KBs never reach the deletion path,
// so the approval flag is meaningless for them.
func (p *Policy) DeletionRequiresApproval() bool {
	return !p.Immutable && p.RequiresApproval
}

// ArchivalRecord tracks the tier placement of one KB record. It is
// created when a record first enters tiered tracking and mutated only
// by the archival manager during transitions and restores.
type ArchivalRecord struct {
	// KBName is the owning knowledge base.
	KBName string `json:"kb_name"`

	// RecordID is the opaque record identifier within the KB.
	RecordID string `json:"record_id"`

	// Tier is the record's current storage tier.
	Tier Tier `json:"tier"`

	// ArchivedAt is when the record entered tiered tracking.
	ArchivedAt time.Time `json:"archived_at"`

	// LastAccessed is the most recent read or restore of the record.
	LastAccessed time.Time `json:"last_accessed"`

	// Checksum is the hex-encoded SHA-256 of the stored payload, taken
	// after any compression and encryption.
	Checksum string `json:"checksum"`

	// Compressed indicates the stored payload is gzip-compressed.
	Compressed bool `json:"compressed"`

	// EncryptionKeyHandle is the opaque handle of the key used to
	// encrypt the stored payload. Empty means unencrypted.
	EncryptionKeyHandle string `json:"encryption_key_handle,omitempty"`

	// SizeBytes is the stored (post-optimization) payload size.
	SizeBytes int64 `json:"size_bytes"`

	// Replicas is the number of independent stored copies.
	Replicas int `json:"replicas"`

	// Metadata carries free-form placement annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Key returns the index key for the record, unique across KBs.
func (r *ArchivalRecord) Key() string {
	return r.KBName + "/" + r.RecordID
}

// EternalMarker permanently exempts one record from age-based deletion.
// It is granted per record and audited independently of policy.
type EternalMarker struct {
	// MemoryID is the record exempted from deletion.
	MemoryID string `json:"memory_id"`

	// KBName is the knowledge base owning the record.
	KBName string `json:"kb_name"`

	// MarkedBy is the named approver who granted the exemption.
	MarkedBy string `json:"marked_by"`

	// MarkedAt is when the exemption was granted.
	MarkedAt time.Time `json:"marked_at"`

	// Reason records why the record must be kept forever.
	Reason string `json:"reason"`
}

// Action identifies the kind of retention activity recorded in an
// audit event.
type Action string

const (
	ActionArchive        Action = "archive"
	ActionPurge          Action = "purge"
	ActionTierTransition Action = "tier_transition"
	ActionMarkEternal    Action = "mark_eternal"
	ActionDeduplicate    Action = "deduplicate"
	ActionBackup         Action = "backup"
	ActionRestore        Action = "restore"
	ActionVeto           Action = "veto"
)

// Event is one entry in the append-only retention audit trail. Events
// are never mutated or deleted.
type Event struct {
	// ID is a UUID assigned at append time.
	ID string `json:"id"`

	// Timestamp is when the action completed.
	Timestamp time.Time `json:"timestamp"`

	// Action is the kind of retention activity.
	Action Action `json:"action"`

	// KBName is the knowledge base the action applied to. Empty for
	// cross-KB actions.
	KBName string `json:"kb_name,omitempty"`

	// AffectedRecords is the number of records the action touched.
	AffectedRecords int `json:"affected_records"`

	// PerformedBy names the actor: a task name, an operator, or
	// "auto-approval".
	PerformedBy string `json:"performed_by"`

	// Approved indicates the action passed the veto gate.
	Approved bool `json:"approved"`

	// ApprovedBy names the approver when Approved is true.
	ApprovedBy string `json:"approved_by,omitempty"`

	// Metadata carries free-form action details.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TierStats holds derived per-tier counts and byte sizes for a KB.
// Statistics are computed on demand from the archival record index and
// never persisted.
type TierStats struct {
	// Records is the number of tracked records in the tier.
	Records int `json:"records"`

	// Bytes is the total stored payload size in the tier.
	Bytes int64 `json:"bytes"`
}

// Result reports the outcome of one retention execution for a KB.
// Per-record failures are collected in Errors; a non-empty error list
// does not make the run unsuccessful.
type Result struct {
	// KBName is the knowledge base the run applied to.
	KBName string `json:"kb_name"`

	// Success is false only when the run could not execute at all
	// (missing policy or adapter).
	Success bool `json:"success"`

	// RecordsProcessed is the number of candidate records examined.
	RecordsProcessed int `json:"records_processed"`

	// RecordsPurged is the number of records actually deleted.
	RecordsPurged int `json:"records_purged"`

	// PendingApproval is the number of deletion candidates parked in
	// the veto gate awaiting a human decision.
	PendingApproval int `json:"pending_approval"`

	// Errors collects per-record failure descriptions.
	Errors []string `json:"errors,omitempty"`
}

// CandidateRecord is one record reported by a KB adapter for retention
// evaluation.
type CandidateRecord struct {
	// ID is the opaque record identifier within the KB.
	ID string `json:"id"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is the most recent access to the record.
	LastAccessed time.Time `json:"last_accessed"`

	// Protected marks the record exempt from deletion at the KB level.
	Protected bool `json:"protected"`
}

// KBAdapter is the capability interface each knowledge base implements
// to participate in retention. The engine never touches KB storage
// directly; adapters are the sole extension point.
//
// Implementations must be safe for concurrent use: the daily retention
// task for one KB may run concurrently with operator actions.
type KBAdapter interface {
	// KBName returns the knowledge base this adapter serves.
	KBName() string

	// ListCandidateRecords enumerates records eligible for retention
	// evaluation.
	ListCandidateRecords(ctx context.Context) ([]CandidateRecord, error)

	// DeleteRecord removes one record from KB storage. It returns
	// false with a nil error when the record no longer exists.
	DeleteRecord(ctx context.Context, id string) (bool, error)

	// RecordAge returns the record's age in days.
	RecordAge(record CandidateRecord) int
}

// RecordAgeDays computes whole days elapsed since created at the given
// instant. Adapters typically delegate to this.
func RecordAgeDays(createdAt, now time.Time) int {
	if now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}
