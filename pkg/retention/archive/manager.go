package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/audit"
	"permafrost-hq/permafrost/pkg/retention/integrity"
	"permafrost-hq/permafrost/pkg/retention/notify"
	"permafrost-hq/permafrost/pkg/retention/policy"
)

// ManagerConfig tunes the archival manager.
type ManagerConfig struct {
	// BatchSize is how many records one migration pass processes per
	// batch. Batching bounds memory and lock-hold time, not
	// correctness. Default: 100
	BatchSize int

	// RedundancyFactor is the minimum number of independent stored
	// copies per record, primary included. Default: 3
	RedundancyFactor int

	// ColdArchiveHorizonDays selects cold-tier records for long-term
	// archival by age. Default: 3650 (10 years)
	ColdArchiveHorizonDays int

	// ColdKeyHandle is the opaque key handle used to encrypt cold and
	// eternal tier payloads. Empty disables encryption.
	ColdKeyHandle string

	// EscalateTo is the notification target for integrity escalations.
	EscalateTo string

	// DedupBlockSize is the block granularity for cold-tier
	// deduplication. Default: 4096
	DedupBlockSize int
}

// DefaultManagerConfig returns the default archival configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BatchSize:              100,
		RedundancyFactor:       3,
		ColdArchiveHorizonDays: 3650,
		DedupBlockSize:         4096,
	}
}

// VerificationReport summarizes one integrity verification sweep.
type VerificationReport struct {
	// Verified is the number of records whose checksum matched.
	Verified int `json:"verified"`

	// Failed is the number of records whose checksum did not match.
	Failed int `json:"failed"`

	// Recovered is how many failed records were restored from a
	// redundant copy.
	Recovered int `json:"recovered"`

	// Failures describes each mismatch.
	Failures []*retention.IntegrityError `json:"failures,omitempty"`
}

// OptimizeReport summarizes one storage optimization pass.
type OptimizeReport struct {
	// WarmCompressed is the number of warm records newly compressed.
	WarmCompressed int `json:"warm_compressed"`

	// ColdDeduplicated is the number of cold records rewritten as
	// block manifests.
	ColdDeduplicated int `json:"cold_deduplicated"`

	// BytesSaved is the storage reclaimed by deduplication.
	BytesSaved int64 `json:"bytes_saved"`

	// ParityAdded is the number of cold records that gained an XOR
	// parity block.
	ParityAdded int `json:"parity_added"`
}

// Manager performs all archival-record mutation: tier transitions,
// long-term cold archival, restores, integrity verification,
// redundancy maintenance, and storage optimization. It is the only
// writer of the archival index.
type Manager struct {
	index    *Index
	backend  Backend
	codec    Codec
	policies *policy.Registry
	events   audit.Log
	notifier notify.Notifier
	config   ManagerConfig
	logger   *slog.Logger
	nowFn    func() time.Time

	// inProgress guards each (kb, from, to) migration pair so that a
	// forced run and a scheduled run can never migrate the same record
	// set simultaneously.
	mu         sync.Mutex
	inProgress map[string]struct{}

	// priority holds record keys flagged for verification ahead of the
	// regular sweep (e.g. by the tamper watcher).
	priorityMu sync.Mutex
	priority   map[string]struct{}
}

// NewManager creates an archival manager. The notifier may be nil, in
// which case escalations are only logged.
func NewManager(index *Index, backend Backend, codec Codec, policies *policy.Registry,
	events audit.Log, notifier notify.Notifier, config ManagerConfig) *Manager {

	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.RedundancyFactor <= 0 {
		config.RedundancyFactor = 3
	}
	if config.ColdArchiveHorizonDays <= 0 {
		config.ColdArchiveHorizonDays = 3650
	}
	if config.DedupBlockSize <= 0 {
		config.DedupBlockSize = 4096
	}

	return &Manager{
		index:      index,
		backend:    backend,
		codec:      codec,
		policies:   policies,
		events:     events,
		notifier:   notifier,
		config:     config,
		logger:     slog.Default().With("component", "retention.archive"),
		nowFn:      time.Now,
		inProgress: make(map[string]struct{}),
		priority:   make(map[string]struct{}),
	}
}

// Index exposes the archival record index for read-only consumers
// (health surface, statistics).
func (m *Manager) Index() *Index {
	return m.index
}

// Ingest brings a record under tiered tracking. The payload is stored
// in the hot tier unoptimized and checksummed as stored.
func (m *Manager) Ingest(ctx context.Context, kbName, recordID string, payload []byte) (*retention.ArchivalRecord, error) {
	if _, err := m.policies.PolicyFor(kbName); err != nil {
		return nil, err
	}

	now := m.nowFn().UTC()
	record := &retention.ArchivalRecord{
		KBName:       kbName,
		RecordID:     recordID,
		Tier:         retention.TierHot,
		ArchivedAt:   now,
		LastAccessed: now,
		Checksum:     integrity.Checksum(payload),
		SizeBytes:    int64(len(payload)),
		Replicas:     1,
	}

	if err := m.backend.Store(ctx, retention.TierHot, record.Key(), payload); err != nil {
		return nil, err
	}
	if err := m.index.Track(record); err != nil {
		m.backend.Remove(ctx, retention.TierHot, record.Key())
		return nil, err
	}

	return record, nil
}

// TransitionTier migrates records in fromTier whose last access is
// older than afterDays into toTier, in fixed-size batches. Per-record
// failures are logged and skipped; the batch is never rolled back.
// Overlapping invocations for the same (kb, from, to) pair are no-ops
// returning retention.ErrMigrationInProgress.
//
// Returns the number of records successfully migrated.
func (m *Manager) TransitionTier(ctx context.Context, kbName string, fromTier, toTier retention.Tier, afterDays int) (int, error) {
	if _, err := m.policies.PolicyFor(kbName); err != nil {
		return 0, err
	}
	if toTier == retention.TierEternal {
		return 0, retention.NewPolicyError(kbName, "transition_tier",
			fmt.Errorf("eternal tier is never entered via age-based transition"))
	}
	if !retention.TierAdvances(fromTier, toTier) {
		return 0, retention.NewPolicyError(kbName, "transition_tier",
			fmt.Errorf("tier order violation: %s -> %s", fromTier, toTier))
	}

	if !m.acquire(kbName, fromTier, toTier) {
		m.logger.Info("tier migration already in progress, skipping",
			"kb", kbName, "from", fromTier, "to", toTier)
		return 0, retention.ErrMigrationInProgress
	}
	defer m.release(kbName, fromTier, toTier)

	cutoff := m.nowFn().UTC().AddDate(0, 0, -afterDays)

	var eligible []*retention.ArchivalRecord
	for _, record := range m.index.ListByTier(kbName, fromTier) {
		if record.LastAccessed.Before(cutoff) {
			eligible = append(eligible, record)
		}
	}

	m.logger.Info("starting tier migration",
		"kb", kbName, "from", fromTier, "to", toTier,
		"eligible", len(eligible), "batch_size", m.config.BatchSize)

	migrated := 0
	failed := 0
	for start := 0; start < len(eligible); start += m.config.BatchSize {
		end := start + m.config.BatchSize
		if end > len(eligible) {
			end = len(eligible)
		}

		for _, record := range eligible[start:end] {
			if err := m.migrateRecord(ctx, record, toTier); err != nil {
				failed++
				m.logger.Error("record migration failed, continuing batch",
					"kb", kbName, "record", record.RecordID,
					"from", fromTier, "to", toTier, "error", err)
				continue
			}
			migrated++
		}
	}

	m.appendEvent(ctx, &retention.Event{
		Action:          retention.ActionTierTransition,
		KBName:          kbName,
		AffectedRecords: migrated,
		PerformedBy:     "archival-manager",
		Metadata: map[string]string{
			"from":   string(fromTier),
			"to":     string(toTier),
			"failed": fmt.Sprintf("%d", failed),
		},
	})

	m.logger.Info("tier migration completed",
		"kb", kbName, "from", fromTier, "to", toTier,
		"migrated", migrated, "failed", failed)

	return migrated, nil
}

// migrateRecord moves one record's payload into the target tier,
// re-optimizing it for that tier and leaving the record in its
// last-consistent state on failure.
func (m *Manager) migrateRecord(ctx context.Context, record *retention.ArchivalRecord, toTier retention.Tier) error {
	key := record.Key()

	plain, err := m.loadDecoded(ctx, record)
	if err != nil {
		return err
	}

	stored, compressed, keyHandle, err := m.optimizeFor(toTier, plain)
	if err != nil {
		return err
	}
	checksum := integrity.Checksum(stored)

	if err := m.backend.Store(ctx, toTier, key, stored); err != nil {
		return err
	}

	// Old replicas stay valid only for the old encoding; they are
	// dropped here and re-created by the next redundancy pass.
	oldReplicas := record.Replicas
	fromTier := record.Tier

	err = m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
		r.Tier = toTier
		r.Checksum = checksum
		r.Compressed = compressed
		r.EncryptionKeyHandle = keyHandle
		r.SizeBytes = int64(len(stored))
		r.Replicas = 1
		delete(r.Metadata, metaDedup)
		delete(r.Metadata, metaIntegrity)
	})
	if err != nil {
		m.backend.Remove(ctx, toTier, key)
		return err
	}

	m.backend.Remove(ctx, fromTier, key)
	for _, replicaKey := range replicaKeys(key, oldReplicas) {
		m.backend.Remove(ctx, fromTier, replicaKey)
	}

	return nil
}

// ArchiveColdData applies the long-term durability bundle (best-effort
// compression, encryption, checksum, redundancy) to cold-tier records
// older than the archive horizon. Only KBs with tiered storage enabled
// participate.
//
// Returns the number of records made durable.
func (m *Manager) ArchiveColdData(ctx context.Context, kbName string) (int, error) {
	pol, err := m.policies.PolicyFor(kbName)
	if err != nil {
		return 0, err
	}
	if !pol.TieredStorage {
		return 0, nil
	}

	horizon := m.nowFn().UTC().AddDate(0, 0, -m.config.ColdArchiveHorizonDays)

	archived := 0
	for _, record := range m.index.ListByTier(kbName, retention.TierCold) {
		if !record.ArchivedAt.Before(horizon) {
			continue
		}
		if err := m.makeDurable(ctx, record); err != nil {
			m.logger.Error("cold archival failed for record, continuing",
				"kb", kbName, "record", record.RecordID, "error", err)
			continue
		}
		archived++
	}

	if archived > 0 {
		m.appendEvent(ctx, &retention.Event{
			Action:          retention.ActionArchive,
			KBName:          kbName,
			AffectedRecords: archived,
			PerformedBy:     "archival-manager",
			Metadata: map[string]string{
				"horizon_days": fmt.Sprintf("%d", m.config.ColdArchiveHorizonDays),
			},
		})
	}

	return archived, nil
}

// makeDurable re-encodes one cold record with full optimization and
// tops up its replicas. This is the one atomic "durable for the long
// term" step: a record is either fully re-encoded and replicated or
// left untouched.
func (m *Manager) makeDurable(ctx context.Context, record *retention.ArchivalRecord) error {
	key := record.Key()

	plain, err := m.loadDecoded(ctx, record)
	if err != nil {
		return err
	}

	stored, compressed, keyHandle, err := m.optimizeFor(retention.TierCold, plain)
	if err != nil {
		return err
	}
	checksum := integrity.Checksum(stored)

	if err := m.backend.Store(ctx, retention.TierCold, key, stored); err != nil {
		return err
	}
	replicas := 1
	for _, replicaKey := range replicaKeys(key, m.config.RedundancyFactor) {
		if err := m.backend.Store(ctx, retention.TierCold, replicaKey, stored); err != nil {
			return err
		}
		replicas++
	}

	return m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
		r.Checksum = checksum
		r.Compressed = compressed
		r.EncryptionKeyHandle = keyHandle
		r.SizeBytes = int64(len(stored))
		r.Replicas = replicas
		delete(r.Metadata, metaDedup)
	})
}

// RestoreFromArchive retrieves a record's content, verifying its
// checksum before any decoding: unverified archived data is never
// served. If targetTier differs from the record's current tier the
// record is moved there.
func (m *Manager) RestoreFromArchive(ctx context.Context, kbName, recordID string, targetTier retention.Tier) ([]byte, error) {
	if !retention.ValidTier(targetTier) {
		return nil, fmt.Errorf("invalid target tier %q", targetTier)
	}
	if targetTier == retention.TierEternal {
		return nil, retention.NewPolicyError(kbName, "restore",
			fmt.Errorf("eternal tier is entered only via eternal marking"))
	}

	record, err := m.index.Get(kbName, recordID)
	if err != nil {
		return nil, err
	}

	stored, err := m.retrieveStored(ctx, record)
	if err != nil {
		return nil, err
	}
	if !integrity.Matches(record.Checksum, stored) {
		return nil, retention.NewIntegrityError(kbName, recordID,
			record.Checksum, integrity.Checksum(stored))
	}

	plain, err := m.decode(record, stored)
	if err != nil {
		return nil, err
	}

	if targetTier != record.Tier {
		if err := m.moveDecoded(ctx, record, targetTier, plain); err != nil {
			return nil, err
		}
	}

	err = m.index.Update(kbName, recordID, func(r *retention.ArchivalRecord) {
		r.LastAccessed = m.nowFn().UTC()
	})
	if err != nil {
		return nil, err
	}

	m.appendEvent(ctx, &retention.Event{
		Action:          retention.ActionRestore,
		KBName:          kbName,
		AffectedRecords: 1,
		PerformedBy:     "archival-manager",
		Metadata:        map[string]string{"record": recordID, "target": string(targetTier)},
	})

	return plain, nil
}

// moveDecoded places the decoded payload in the target tier with
// tier-appropriate optimization and removes the old placement.
func (m *Manager) moveDecoded(ctx context.Context, record *retention.ArchivalRecord, targetTier retention.Tier, plain []byte) error {
	key := record.Key()

	stored, compressed, keyHandle, err := m.optimizeFor(targetTier, plain)
	if err != nil {
		return err
	}
	checksum := integrity.Checksum(stored)

	if err := m.backend.Store(ctx, targetTier, key, stored); err != nil {
		return err
	}

	oldTier := record.Tier
	oldReplicas := record.Replicas

	err = m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
		r.Tier = targetTier
		r.Checksum = checksum
		r.Compressed = compressed
		r.EncryptionKeyHandle = keyHandle
		r.SizeBytes = int64(len(stored))
		r.Replicas = 1
		delete(r.Metadata, metaDedup)
		delete(r.Metadata, metaIntegrity)
	})
	if err != nil {
		m.backend.Remove(ctx, targetTier, key)
		return err
	}

	m.backend.Remove(ctx, oldTier, key)
	for _, replicaKey := range replicaKeys(key, oldReplicas) {
		m.backend.Remove(ctx, oldTier, replicaKey)
	}

	return nil
}

// VerifyArchivalIntegrity recomputes every tracked record's checksum
// and compares it against the index. Mismatches are escalated and a
// recovery from a redundant copy is attempted; a corrupted payload is
// never "repaired" by adopting its checksum.
func (m *Manager) VerifyArchivalIntegrity(ctx context.Context) (*VerificationReport, error) {
	report := &VerificationReport{}

	records := m.prioritized(m.index.All())

	for _, record := range records {
		m.clearPriority(record.Key())

		stored, err := m.retrieveStored(ctx, record)
		if err != nil {
			// A missing or unreadable payload is an integrity failure,
			// not an operational skip.
			m.handleIntegrityFailure(ctx, report, record, "", err)
			continue
		}

		actual := integrity.Checksum(stored)
		if actual == record.Checksum {
			report.Verified++
			continue
		}

		m.handleIntegrityFailure(ctx, report, record, actual, nil)
	}

	m.logger.Info("integrity verification completed",
		"verified", report.Verified, "failed", report.Failed, "recovered", report.Recovered)

	return report, nil
}

// handleIntegrityFailure records the failure, attempts recovery from a
// redundant copy, and escalates the outcome.
func (m *Manager) handleIntegrityFailure(ctx context.Context, report *VerificationReport,
	record *retention.ArchivalRecord, actual string, retrieveErr error) {

	report.Failed++
	failure := retention.NewIntegrityError(record.KBName, record.RecordID, record.Checksum, actual)
	report.Failures = append(report.Failures, failure)

	recovered := m.recoverFromReplica(ctx, record)
	if recovered {
		report.Recovered++
	} else {
		// Flag the record so operators and the health surface see it.
		m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			r.Metadata[metaIntegrity] = "failed"
		})
	}

	m.logger.Error("archival integrity failure",
		"kb", record.KBName, "record", record.RecordID,
		"recovered", recovered, "retrieve_error", retrieveErr)

	if m.notifier != nil {
		outcome := "recovered from redundant copy"
		if !recovered {
			outcome = "NOT recovered; record flagged for manual intervention"
		}
		m.notifier.Send(ctx, notify.Notification{
			To:      m.config.EscalateTo,
			Subject: fmt.Sprintf("integrity failure: %s/%s", record.KBName, record.RecordID),
			Body: fmt.Sprintf("Checksum verification failed for record %s in kb %s (tier %s). Outcome: %s.",
				record.RecordID, record.KBName, record.Tier, outcome),
		})
	}
}

// recoverFromReplica restores the primary payload from the first
// redundant copy that still matches the stored checksum.
func (m *Manager) recoverFromReplica(ctx context.Context, record *retention.ArchivalRecord) bool {
	key := record.Key()

	for _, replicaKey := range replicaKeys(key, record.Replicas) {
		replica, err := m.backend.Retrieve(ctx, record.Tier, replicaKey)
		if err != nil {
			continue
		}
		if !integrity.Matches(record.Checksum, replica) {
			continue
		}
		if err := m.backend.Store(ctx, record.Tier, key, replica); err != nil {
			m.logger.Error("failed to restore primary from replica",
				"kb", record.KBName, "record", record.RecordID, "error", err)
			return false
		}
		m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
			// Replicas hold the full encoded payload, so a recovered
			// primary is no longer a dedup manifest.
			delete(r.Metadata, metaDedup)
			delete(r.Metadata, metaIntegrity)
			r.SizeBytes = int64(len(replica))
		})
		return true
	}

	return false
}

// EnsureRedundancy tops up redundant copies to the configured factor
// for every under-replicated record of the KB.
//
// Returns the number of records topped up.
func (m *Manager) EnsureRedundancy(ctx context.Context, kbName string) (int, error) {
	pol, err := m.policies.PolicyFor(kbName)
	if err != nil {
		return 0, err
	}
	if pol.Immutable {
		// Immutable KBs get their redundancy at eternal-archival time.
		return 0, nil
	}

	toppedUp := 0
	for _, record := range m.index.All() {
		if record.KBName != kbName || record.Replicas >= m.config.RedundancyFactor {
			continue
		}

		stored, err := m.retrieveStored(ctx, record)
		if err != nil {
			m.logger.Error("cannot read record for replication, skipping",
				"kb", kbName, "record", record.RecordID, "error", err)
			continue
		}
		if !integrity.Matches(record.Checksum, stored) {
			// Never replicate corrupt data.
			m.logger.Error("record failed checksum during replication, skipping",
				"kb", kbName, "record", record.RecordID)
			continue
		}

		replicas := record.Replicas
		ok := true
		for i := replicas; i < m.config.RedundancyFactor; i++ {
			replicaKey := fmt.Sprintf("%s#r%d", record.Key(), i)
			if err := m.backend.Store(ctx, record.Tier, replicaKey, stored); err != nil {
				m.logger.Error("failed to store replica, leaving record under-replicated",
					"kb", kbName, "record", record.RecordID, "error", err)
				ok = false
				break
			}
			replicas++
		}

		if err := m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
			r.Replicas = replicas
		}); err != nil {
			return toppedUp, err
		}
		if ok {
			toppedUp++
		}
	}

	if toppedUp > 0 {
		m.appendEvent(ctx, &retention.Event{
			Action:          retention.ActionBackup,
			KBName:          kbName,
			AffectedRecords: toppedUp,
			PerformedBy:     "archival-manager",
			Metadata:        map[string]string{"factor": fmt.Sprintf("%d", m.config.RedundancyFactor)},
		})
	}

	return toppedUp, nil
}

// MarkEternal moves a tracked record into the eternal tier. Eternal is
// one-way for age-based lifecycle purposes: nothing but an explicit
// restore ever moves the record again.
func (m *Manager) MarkEternal(ctx context.Context, kbName, recordID string) error {
	record, err := m.index.Get(kbName, recordID)
	if err != nil {
		return err
	}
	if record.Tier == retention.TierEternal {
		return nil
	}

	stored, err := m.retrieveStored(ctx, record)
	if err != nil {
		return err
	}
	if !integrity.Matches(record.Checksum, stored) {
		return retention.NewIntegrityError(kbName, recordID,
			record.Checksum, integrity.Checksum(stored))
	}

	plain, err := m.decode(record, stored)
	if err != nil {
		return err
	}

	return m.moveDecoded(ctx, record, retention.TierEternal, plain)
}

// Delete removes a record's stored payloads and its index entry. The
// caller (the retention engine) invokes this only alongside deletion
// of the underlying KB record, after the veto gate has approved it.
func (m *Manager) Delete(ctx context.Context, kbName, recordID string) error {
	record, err := m.index.Get(kbName, recordID)
	if err != nil {
		if err := m.index.Remove(kbName, recordID); err != nil {
			return err
		}
		return nil
	}

	if record.Metadata[metaDedup] == "1" {
		m.releaseDedupBlocks(ctx, record)
	}

	key := record.Key()
	m.backend.Remove(ctx, record.Tier, key)
	m.backend.Remove(ctx, record.Tier, key+"#parity")
	for _, replicaKey := range replicaKeys(key, record.Replicas) {
		m.backend.Remove(ctx, record.Tier, replicaKey)
	}

	return m.index.Remove(kbName, recordID)
}

// Stats computes the KB's per-tier record counts and byte sizes.
func (m *Manager) Stats(kbName string) map[retention.Tier]retention.TierStats {
	return m.index.Stats(kbName)
}

// HealthCounts returns the number of records in the KB with an
// unrecovered integrity failure and the number stored below the
// configured redundancy factor. Used by the health report.
func (m *Manager) HealthCounts(kbName string) (integrityFailed, underReplicated int) {
	for _, record := range m.index.All() {
		if record.KBName != kbName {
			continue
		}
		if record.Metadata[metaIntegrity] == "failed" {
			integrityFailed++
		}
		if record.Tier == retention.TierCold || record.Tier == retention.TierEternal {
			if record.Replicas < m.config.RedundancyFactor {
				underReplicated++
			}
		}
	}
	return integrityFailed, underReplicated
}

// FlagForVerification marks a record key for priority checking in the
// next integrity sweep. Used by the tamper watcher.
func (m *Manager) FlagForVerification(key string) {
	m.priorityMu.Lock()
	defer m.priorityMu.Unlock()
	m.priority[key] = struct{}{}
}

// prioritized reorders records so flagged keys are verified first.
func (m *Manager) prioritized(records []*retention.ArchivalRecord) []*retention.ArchivalRecord {
	m.priorityMu.Lock()
	defer m.priorityMu.Unlock()

	if len(m.priority) == 0 {
		return records
	}

	var flagged, rest []*retention.ArchivalRecord
	for _, record := range records {
		if _, ok := m.priority[record.Key()]; ok {
			flagged = append(flagged, record)
		} else {
			rest = append(rest, record)
		}
	}
	return append(flagged, rest...)
}

func (m *Manager) clearPriority(key string) {
	m.priorityMu.Lock()
	defer m.priorityMu.Unlock()
	delete(m.priority, key)
}

// loadDecoded retrieves and decodes a record's payload, verifying the
// stored checksum first.
func (m *Manager) loadDecoded(ctx context.Context, record *retention.ArchivalRecord) ([]byte, error) {
	stored, err := m.retrieveStored(ctx, record)
	if err != nil {
		return nil, err
	}
	if !integrity.Matches(record.Checksum, stored) {
		return nil, retention.NewIntegrityError(record.KBName, record.RecordID,
			record.Checksum, integrity.Checksum(stored))
	}
	return m.decode(record, stored)
}

// decode reverses the tier optimizations applied at store time.
func (m *Manager) decode(record *retention.ArchivalRecord, stored []byte) ([]byte, error) {
	payload := stored

	if record.EncryptionKeyHandle != "" {
		decrypted, err := m.codec.Decrypt(payload, record.EncryptionKeyHandle)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt record %q: %w", record.Key(), err)
		}
		payload = decrypted
	}
	if record.Compressed {
		decompressed, err := m.codec.Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress record %q: %w", record.Key(), err)
		}
		payload = decompressed
	}

	return payload, nil
}

// optimizeFor applies tier-specific optimization: warm gets light
// compression, cold and eternal get best-effort compression plus
// encryption, hot stays raw.
func (m *Manager) optimizeFor(tier retention.Tier, plain []byte) (stored []byte, compressed bool, keyHandle string, err error) {
	switch tier {
	case retention.TierHot:
		return plain, false, "", nil

	case retention.TierWarm:
		stored, err = m.codec.Compress(plain, LevelFast)
		if err != nil {
			return nil, false, "", err
		}
		return stored, true, "", nil

	case retention.TierCold, retention.TierEternal:
		stored, err = m.codec.Compress(plain, LevelBest)
		if err != nil {
			return nil, false, "", err
		}
		if m.config.ColdKeyHandle != "" {
			stored, err = m.codec.Encrypt(stored, m.config.ColdKeyHandle)
			if err != nil {
				return nil, false, "", err
			}
			return stored, true, m.config.ColdKeyHandle, nil
		}
		return stored, true, "", nil
	}

	return nil, false, "", fmt.Errorf("invalid tier %q", tier)
}

// acquire claims the (kb, from, to) migration guard.
func (m *Manager) acquire(kbName string, from, to retention.Tier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := kbName + "|" + string(from) + "|" + string(to)
	if _, busy := m.inProgress[key]; busy {
		return false
	}
	m.inProgress[key] = struct{}{}
	return true
}

// release frees the (kb, from, to) migration guard.
func (m *Manager) release(kbName string, from, to retention.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inProgress, kbName+"|"+string(from)+"|"+string(to))
}

// appendEvent writes an audit event, logging rather than failing the
// operation when the sink errors.
func (m *Manager) appendEvent(ctx context.Context, event *retention.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Append(ctx, event); err != nil {
		m.logger.Error("failed to append audit event",
			"action", event.Action, "kb", event.KBName, "error", err)
	}
}

// replicaKeys derives the replica key names for a record with the
// given total copy count (primary included).
func replicaKeys(key string, replicas int) []string {
	var keys []string
	for i := 1; i < replicas; i++ {
		keys = append(keys, fmt.Sprintf("%s#r%d", key, i))
	}
	return keys
}

// Metadata keys maintained by the manager.
const (
	metaDedup     = "dedup"
	metaIntegrity = "integrity"
	metaErasure   = "erasure"
)
