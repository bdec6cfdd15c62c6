package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"permafrost-hq/permafrost/pkg/retention"
)

// FilesystemBackend implements Backend on a local directory tree with
// one subdirectory per tier. Keys are hex-encoded into filenames so
// that record keys containing separators cannot escape the tier root.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend creates the tier directory tree under root.
func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem backend root cannot be empty")
	}

	for _, tier := range []retention.Tier{retention.TierHot, retention.TierWarm, retention.TierCold, retention.TierEternal} {
		dir := filepath.Join(root, string(tier))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create tier directory %q: %w", dir, err)
		}
	}

	return &FilesystemBackend{root: root}, nil
}

// TierDir returns the directory backing the given tier. Used by the
// tamper watcher to know what to observe.
func (b *FilesystemBackend) TierDir(tier retention.Tier) string {
	return filepath.Join(b.root, string(tier))
}

// KeyForPath maps a payload file path back to the record key, for the
// tamper watcher. Returns false for paths that are not payload files.
func (b *FilesystemBackend) KeyForPath(path string) (string, bool) {
	name := filepath.Base(path)
	if filepath.Ext(name) != ".bin" {
		return "", false
	}
	decoded, err := hex.DecodeString(name[:len(name)-len(".bin")])
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func (b *FilesystemBackend) path(tier retention.Tier, key string) string {
	return filepath.Join(b.root, string(tier), hex.EncodeToString([]byte(key))+".bin")
}

// Store persists the payload at (tier, key). Writes go through a temp
// file and rename so a crash never leaves a half-written payload under
// the payload name.
func (b *FilesystemBackend) Store(ctx context.Context, tier retention.Tier, key string, payload []byte) error {
	target := b.path(tier, key)

	tmp, err := os.CreateTemp(filepath.Dir(target), ".store-*")
	if err != nil {
		return retention.NewBackendError("filesystem", tier, "store", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return retention.NewBackendError("filesystem", tier, "store", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return retention.NewBackendError("filesystem", tier, "store", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return retention.NewBackendError("filesystem", tier, "store", err)
	}

	return nil
}

// Retrieve returns the payload stored at (tier, key).
func (b *FilesystemBackend) Retrieve(ctx context.Context, tier retention.Tier, key string) ([]byte, error) {
	payload, err := os.ReadFile(b.path(tier, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, retention.NewBackendError("filesystem", tier, "retrieve",
				fmt.Errorf("key %q: %w", key, ErrPayloadNotFound))
		}
		return nil, retention.NewBackendError("filesystem", tier, "retrieve", err)
	}
	return payload, nil
}

// Remove deletes the payload at (tier, key).
func (b *FilesystemBackend) Remove(ctx context.Context, tier retention.Tier, key string) error {
	if err := os.Remove(b.path(tier, key)); err != nil && !os.IsNotExist(err) {
		return retention.NewBackendError("filesystem", tier, "remove", err)
	}
	return nil
}

// Size returns the stored payload size at (tier, key).
func (b *FilesystemBackend) Size(ctx context.Context, tier retention.Tier, key string) (int64, error) {
	info, err := os.Stat(b.path(tier, key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, retention.NewBackendError("filesystem", tier, "size",
				fmt.Errorf("key %q: %w", key, ErrPayloadNotFound))
		}
		return 0, retention.NewBackendError("filesystem", tier, "size", err)
	}
	return info.Size(), nil
}
