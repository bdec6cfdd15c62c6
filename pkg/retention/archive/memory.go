package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"permafrost-hq/permafrost/pkg/retention"
)

// ErrPayloadNotFound is returned by backends when no payload exists at
// the requested (tier, key).
var ErrPayloadNotFound = errors.New("payload not found in tier backend")

// MemoryBackend implements Backend using in-memory maps. It is
// intended for tests and development; durable deployments use
// FilesystemBackend or an external object store.
type MemoryBackend struct {
	mu    sync.RWMutex
	tiers map[retention.Tier]map[string][]byte
}

// NewMemoryBackend creates a new in-memory tier backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tiers: make(map[retention.Tier]map[string][]byte),
	}
}

// Store persists the payload at (tier, key).
func (b *MemoryBackend) Store(ctx context.Context, tier retention.Tier, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.tiers[tier]
	if !ok {
		bucket = make(map[string][]byte)
		b.tiers[tier] = bucket
	}

	// Copy so later caller mutation cannot corrupt stored state.
	stored := make([]byte, len(payload))
	copy(stored, payload)
	bucket[key] = stored

	return nil
}

// Retrieve returns the payload stored at (tier, key).
func (b *MemoryBackend) Retrieve(ctx context.Context, tier retention.Tier, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bucket, ok := b.tiers[tier]
	if !ok {
		return nil, retention.NewBackendError("memory", tier, "retrieve",
			fmt.Errorf("key %q: %w", key, ErrPayloadNotFound))
	}
	payload, ok := bucket[key]
	if !ok {
		return nil, retention.NewBackendError("memory", tier, "retrieve",
			fmt.Errorf("key %q: %w", key, ErrPayloadNotFound))
	}

	result := make([]byte, len(payload))
	copy(result, payload)
	return result, nil
}

// Remove deletes the payload at (tier, key).
func (b *MemoryBackend) Remove(ctx context.Context, tier retention.Tier, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bucket, ok := b.tiers[tier]; ok {
		delete(bucket, key)
	}
	return nil
}

// Size returns the stored payload size at (tier, key).
func (b *MemoryBackend) Size(ctx context.Context, tier retention.Tier, key string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if bucket, ok := b.tiers[tier]; ok {
		if payload, ok := bucket[key]; ok {
			return int64(len(payload)), nil
		}
	}
	return 0, retention.NewBackendError("memory", tier, "size",
		fmt.Errorf("key %q: %w", key, ErrPayloadNotFound))
}

// Corrupt flips a byte of the stored payload in place. Test helper for
// integrity verification scenarios.
func (b *MemoryBackend) Corrupt(tier retention.Tier, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.tiers[tier]
	if !ok {
		return false
	}
	payload, ok := bucket[key]
	if !ok || len(payload) == 0 {
		return false
	}
	payload[len(payload)/2] ^= 0xff
	return true
}
