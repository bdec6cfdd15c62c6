package archive

import (
	"fmt"
	"sort"
	"sync"

	"permafrost-hq/permafrost/pkg/retention"
)

// IndexStore persists index state so tier placement survives restarts.
// The in-memory index writes through on every mutation and loads once
// at startup.
type IndexStore interface {
	// Load returns every persisted archival record.
	Load() ([]*retention.ArchivalRecord, error)

	// Save persists one record, replacing any previous state.
	Save(record *retention.ArchivalRecord) error

	// Delete removes the persisted record for the key.
	Delete(key string) error

	// Close releases resources held by the store.
	Close() error
}

// Index is the shared archival record index: the one piece of mutable
// state in the engine. All mutation goes through the archival manager,
// which is the only writer.
type Index struct {
	mu      sync.RWMutex
	records map[string]*retention.ArchivalRecord
	store   IndexStore // nil for purely in-memory operation
}

// NewIndex creates an empty in-memory index.
func NewIndex() *Index {
	return &Index{records: make(map[string]*retention.ArchivalRecord)}
}

// NewIndexWithStore creates an index backed by a persistent store and
// loads all previously tracked records from it.
func NewIndexWithStore(store IndexStore) (*Index, error) {
	idx := NewIndex()
	idx.store = store

	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load archival index: %w", err)
	}
	for _, record := range records {
		idx.records[record.Key()] = record
	}

	return idx, nil
}

// Track inserts a new record into the index. Tracking an already
// tracked record is an error: placement state must not be silently
// overwritten.
func (idx *Index) Track(record *retention.ArchivalRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := record.Key()
	if _, exists := idx.records[key]; exists {
		return fmt.Errorf("record %q already tracked", key)
	}

	recordCopy := clone(record)
	idx.records[key] = recordCopy

	return idx.persist(recordCopy)
}

// Get returns a copy of the tracked record.
func (idx *Index) Get(kbName, recordID string) (*retention.ArchivalRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	record, ok := idx.records[kbName+"/"+recordID]
	if !ok {
		return nil, fmt.Errorf("kb %q record %q: %w", kbName, recordID, retention.ErrRecordNotTracked)
	}

	return clone(record), nil
}

// Update applies mutate to the tracked record under the index lock and
// persists the result. The manager is the only caller.
func (idx *Index) Update(kbName, recordID string, mutate func(*retention.ArchivalRecord)) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	record, ok := idx.records[kbName+"/"+recordID]
	if !ok {
		return fmt.Errorf("kb %q record %q: %w", kbName, recordID, retention.ErrRecordNotTracked)
	}

	mutate(record)
	return idx.persist(record)
}

// Remove drops a record from the index. Called only alongside deletion
// of the underlying KB record.
func (idx *Index) Remove(kbName, recordID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := kbName + "/" + recordID
	if _, ok := idx.records[key]; !ok {
		return nil
	}
	delete(idx.records, key)

	if idx.store != nil {
		return idx.store.Delete(key)
	}
	return nil
}

// ListByTier returns copies of the KB's records currently in the tier,
// ordered by record ID for deterministic batching.
func (idx *Index) ListByTier(kbName string, tier retention.Tier) []*retention.ArchivalRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []*retention.ArchivalRecord
	for _, record := range idx.records {
		if record.KBName == kbName && record.Tier == tier {
			results = append(results, clone(record))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].RecordID < results[j].RecordID
	})
	return results
}

// All returns copies of every tracked record, ordered by key.
func (idx *Index) All() []*retention.ArchivalRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]*retention.ArchivalRecord, 0, len(idx.records))
	for _, record := range idx.records {
		results = append(results, clone(record))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Key() < results[j].Key()
	})
	return results
}

// KBNames returns the names of all KBs with tracked records.
func (idx *Index) KBNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, record := range idx.records {
		seen[record.KBName] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats computes per-tier counts and byte sizes for the KB on demand.
func (idx *Index) Stats(kbName string) map[retention.Tier]retention.TierStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := make(map[retention.Tier]retention.TierStats)
	for _, record := range idx.records {
		if record.KBName != kbName {
			continue
		}
		s := stats[record.Tier]
		s.Records++
		s.Bytes += record.SizeBytes
		stats[record.Tier] = s
	}
	return stats
}

// Len returns the number of tracked records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// clone deep-copies a record. Snapshots handed out by the index must
// never alias live state: a shared Metadata map would let Update
// mutate a caller's snapshot and race its readers.
func clone(record *retention.ArchivalRecord) *retention.ArchivalRecord {
	recordCopy := *record
	if record.Metadata != nil {
		recordCopy.Metadata = make(map[string]string, len(record.Metadata))
		for k, v := range record.Metadata {
			recordCopy.Metadata[k] = v
		}
	}
	return &recordCopy
}

// persist writes one record through to the store. Caller holds the
// index lock.
func (idx *Index) persist(record *retention.ArchivalRecord) error {
	if idx.store == nil {
		return nil
	}
	if err := idx.store.Save(record); err != nil {
		return fmt.Errorf("failed to persist archival record %q: %w", record.Key(), err)
	}
	return nil
}
