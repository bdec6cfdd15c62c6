package archive

import (
	"context"

	"permafrost-hq/permafrost/pkg/retention"
)

// Backend is the capability interface for one physical storage layer
// behind the tiers. The engine is backend-agnostic by construction:
// any object store, filesystem, or cloud-archive implementation
// satisfies it.
//
// Keys are opaque to the backend. The manager derives replica and
// parity keys from the primary record key, so a backend only ever
// deals in (tier, key, bytes).
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Store persists the payload at (tier, key), overwriting any
	// previous payload.
	Store(ctx context.Context, tier retention.Tier, key string, payload []byte) error

	// Retrieve returns the payload stored at (tier, key).
	Retrieve(ctx context.Context, tier retention.Tier, key string) ([]byte, error)

	// Remove deletes the payload at (tier, key). Removing a missing
	// key is not an error.
	Remove(ctx context.Context, tier retention.Tier, key string) error

	// Size returns the stored payload size at (tier, key).
	Size(ctx context.Context, tier retention.Tier, key string) (int64, error)
}
