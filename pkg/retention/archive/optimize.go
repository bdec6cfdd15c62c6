package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/integrity"
)

// dedupManifest replaces a deduplicated record's stored payload. The
// logical payload is the concatenation of the referenced blocks, so
// the record's checksum stays valid across deduplication.
type dedupManifest struct {
	BlockSize int      `json:"block_size"`
	Blocks    []string `json:"blocks"`
}

// blockKey names a shared deduplication block in the cold tier.
func blockKey(hash string) string {
	return "block/" + hash
}

// retrieveStored returns a record's logical stored bytes, reassembling
// deduplicated records from their shared blocks.
func (m *Manager) retrieveStored(ctx context.Context, record *retention.ArchivalRecord) ([]byte, error) {
	stored, err := m.backend.Retrieve(ctx, record.Tier, record.Key())
	if err != nil {
		return nil, err
	}
	if record.Metadata[metaDedup] != "1" {
		return stored, nil
	}

	var manifest dedupManifest
	if err := json.Unmarshal(stored, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse dedup manifest for %q: %w", record.Key(), err)
	}

	var payload []byte
	for _, hash := range manifest.Blocks {
		block, err := m.backend.Retrieve(ctx, record.Tier, blockKey(hash))
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve dedup block %s for %q: %w", hash, record.Key(), err)
		}
		payload = append(payload, block...)
	}

	return payload, nil
}

// OptimizeStorage runs periodic maintenance for one KB: compress any
// uncompressed warm records, deduplicate cold records at block
// granularity where the policy allows it, and add XOR parity blocks in
// the cold tier. Per-record failures are logged and skipped.
func (m *Manager) OptimizeStorage(ctx context.Context, kbName string) (*OptimizeReport, error) {
	pol, err := m.policies.PolicyFor(kbName)
	if err != nil {
		return nil, err
	}

	report := &OptimizeReport{}

	// Warm tier: light compression for anything stored raw.
	for _, record := range m.index.ListByTier(kbName, retention.TierWarm) {
		if record.Compressed {
			continue
		}
		if err := m.compressWarmRecord(ctx, record); err != nil {
			m.logger.Error("warm compression failed, continuing",
				"kb", kbName, "record", record.RecordID, "error", err)
			continue
		}
		report.WarmCompressed++
	}

	// Cold tier: block-level deduplication, policy permitting.
	if pol.DeduplicationAllowed {
		for _, record := range m.index.ListByTier(kbName, retention.TierCold) {
			if record.Metadata[metaDedup] == "1" {
				continue
			}
			saved, err := m.deduplicateRecord(ctx, record)
			if err != nil {
				m.logger.Error("deduplication failed, continuing",
					"kb", kbName, "record", record.RecordID, "error", err)
				continue
			}
			report.ColdDeduplicated++
			report.BytesSaved += saved
		}
	}

	// Cold tier: XOR parity for single-block recovery.
	for _, record := range m.index.ListByTier(kbName, retention.TierCold) {
		if record.Metadata[metaErasure] != "" {
			continue
		}
		if err := m.addParity(ctx, record); err != nil {
			m.logger.Error("parity generation failed, continuing",
				"kb", kbName, "record", record.RecordID, "error", err)
			continue
		}
		report.ParityAdded++
	}

	if report.ColdDeduplicated > 0 {
		m.appendEvent(ctx, &retention.Event{
			Action:          retention.ActionDeduplicate,
			KBName:          kbName,
			AffectedRecords: report.ColdDeduplicated,
			PerformedBy:     "archival-manager",
			Metadata:        map[string]string{"bytes_saved": fmt.Sprintf("%d", report.BytesSaved)},
		})
	}

	m.logger.Info("storage optimization completed",
		"kb", kbName,
		"warm_compressed", report.WarmCompressed,
		"cold_deduplicated", report.ColdDeduplicated,
		"bytes_saved", report.BytesSaved,
		"parity_added", report.ParityAdded)

	return report, nil
}

// compressWarmRecord applies light compression to a raw warm payload.
func (m *Manager) compressWarmRecord(ctx context.Context, record *retention.ArchivalRecord) error {
	stored, err := m.retrieveStored(ctx, record)
	if err != nil {
		return err
	}
	if !integrity.Matches(record.Checksum, stored) {
		return retention.NewIntegrityError(record.KBName, record.RecordID,
			record.Checksum, integrity.Checksum(stored))
	}

	compressed, err := m.codec.Compress(stored, LevelFast)
	if err != nil {
		return err
	}

	if err := m.backend.Store(ctx, retention.TierWarm, record.Key(), compressed); err != nil {
		return err
	}

	return m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
		r.Compressed = true
		r.Checksum = integrity.Checksum(compressed)
		r.SizeBytes = int64(len(compressed))
	})
}

// deduplicateRecord rewrites a cold record as a manifest referencing
// shared fixed-size blocks and returns the bytes saved. The saving can
// be negative for a record whose blocks are all unique: it pays the
// manifest overhead once so that future duplicates of its blocks are
// free.
func (m *Manager) deduplicateRecord(ctx context.Context, record *retention.ArchivalRecord) (int64, error) {
	stored, err := m.retrieveStored(ctx, record)
	if err != nil {
		return 0, err
	}
	if !integrity.Matches(record.Checksum, stored) {
		return 0, retention.NewIntegrityError(record.KBName, record.RecordID,
			record.Checksum, integrity.Checksum(stored))
	}

	blockSize := m.config.DedupBlockSize
	manifest := dedupManifest{BlockSize: blockSize}

	var newBlockBytes int64
	for start := 0; start < len(stored); start += blockSize {
		end := start + blockSize
		if end > len(stored) {
			end = len(stored)
		}
		block := stored[start:end]
		hash := integrity.Checksum(block)
		manifest.Blocks = append(manifest.Blocks, hash)

		// Only write blocks not already in the shared store.
		if _, err := m.backend.Size(ctx, retention.TierCold, blockKey(hash)); err == nil {
			continue
		}
		if err := m.backend.Store(ctx, retention.TierCold, blockKey(hash), block); err != nil {
			return 0, err
		}
		newBlockBytes += int64(len(block))
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return 0, fmt.Errorf("failed to encode dedup manifest: %w", err)
	}
	if err := m.backend.Store(ctx, retention.TierCold, record.Key(), encoded); err != nil {
		return 0, err
	}

	err = m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata[metaDedup] = "1"
	})
	if err != nil {
		return 0, err
	}

	saved := int64(len(stored)) - newBlockBytes - int64(len(encoded))
	return saved, nil
}

// releaseDedupBlocks removes the shared blocks of a deduplicated
// record that no other manifest still references. Called on record
// deletion, before the manifest itself is removed. When any other
// manifest cannot be read, every block is kept: an unreadable manifest
// may still reference them.
func (m *Manager) releaseDedupBlocks(ctx context.Context, record *retention.ArchivalRecord) {
	stored, err := m.backend.Retrieve(ctx, record.Tier, record.Key())
	if err != nil {
		return
	}
	var manifest dedupManifest
	if err := json.Unmarshal(stored, &manifest); err != nil {
		return
	}

	orphaned := make(map[string]struct{}, len(manifest.Blocks))
	for _, hash := range manifest.Blocks {
		orphaned[hash] = struct{}{}
	}

	for _, other := range m.index.All() {
		if len(orphaned) == 0 {
			return
		}
		if other.KBName == record.KBName && other.RecordID == record.RecordID {
			continue
		}
		if other.Metadata[metaDedup] != "1" {
			continue
		}
		otherStored, err := m.backend.Retrieve(ctx, other.Tier, other.Key())
		if err != nil {
			m.logger.Error("cannot read dedup manifest, keeping shared blocks",
				"kb", other.KBName, "record", other.RecordID, "error", err)
			return
		}
		var otherManifest dedupManifest
		if err := json.Unmarshal(otherStored, &otherManifest); err != nil {
			m.logger.Error("cannot parse dedup manifest, keeping shared blocks",
				"kb", other.KBName, "record", other.RecordID, "error", err)
			return
		}
		for _, hash := range otherManifest.Blocks {
			delete(orphaned, hash)
		}
	}

	for hash := range orphaned {
		m.backend.Remove(ctx, record.Tier, blockKey(hash))
	}
}

// addParity stores an XOR parity block over the record's logical
// payload, enabling recovery of any single damaged block.
func (m *Manager) addParity(ctx context.Context, record *retention.ArchivalRecord) error {
	stored, err := m.retrieveStored(ctx, record)
	if err != nil {
		return err
	}

	blockSize := m.config.DedupBlockSize
	parity := make([]byte, blockSize)
	for start := 0; start < len(stored); start += blockSize {
		end := start + blockSize
		if end > len(stored) {
			end = len(stored)
		}
		for i, b := range stored[start:end] {
			parity[i] ^= b
		}
	}

	if err := m.backend.Store(ctx, retention.TierCold, record.Key()+"#parity", parity); err != nil {
		return err
	}

	return m.index.Update(record.KBName, record.RecordID, func(r *retention.ArchivalRecord) {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata[metaErasure] = "xor-parity"
	})
}
