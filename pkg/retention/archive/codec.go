package archive

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// CompressionLevel selects the tier-appropriate compression effort.
type CompressionLevel int

const (
	// LevelFast is light, fast compression for the warm tier.
	LevelFast CompressionLevel = gzip.BestSpeed
	// LevelBest is best-effort compression for the cold tier.
	LevelBest CompressionLevel = gzip.BestCompression
)

// Codec transforms payloads on their way into and out of tier storage.
// Compression and encryption are independent: warm-tier payloads are
// only compressed, cold-tier payloads are compressed then encrypted.
type Codec interface {
	// Compress returns the gzip-compressed payload.
	Compress(payload []byte, level CompressionLevel) ([]byte, error)

	// Decompress reverses Compress.
	Decompress(payload []byte) ([]byte, error)

	// Encrypt encrypts the payload under the key named by the opaque
	// handle.
	Encrypt(payload []byte, keyHandle string) ([]byte, error)

	// Decrypt reverses Encrypt.
	Decrypt(payload []byte, keyHandle string) ([]byte, error)
}

// KeyResolver resolves an opaque key handle to key material. Key
// management itself is out of scope; any KMS client can implement
// this.
type KeyResolver interface {
	// ResolveKey returns the 32-byte key for the handle.
	ResolveKey(keyHandle string) ([]byte, error)
}

// StaticKeyResolver resolves handles from a fixed in-memory map. It is
// intended for tests and single-node deployments with file-provisioned
// keys.
type StaticKeyResolver struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewStaticKeyResolver creates a resolver over the given handle->key
// map.
func NewStaticKeyResolver(keys map[string][]byte) *StaticKeyResolver {
	copied := make(map[string][]byte, len(keys))
	for handle, key := range keys {
		k := make([]byte, len(key))
		copy(k, key)
		copied[handle] = k
	}
	return &StaticKeyResolver{keys: copied}
}

// ResolveKey returns the key material for the handle.
func (r *StaticKeyResolver) ResolveKey(keyHandle string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.keys[keyHandle]
	if !ok {
		return nil, fmt.Errorf("unknown encryption key handle %q", keyHandle)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key handle %q: expected 32-byte key, got %d bytes", keyHandle, len(key))
	}
	return key, nil
}

// StandardCodec is the production codec: gzip compression and
// AES-256-GCM encryption with keys resolved through an opaque handle.
type StandardCodec struct {
	resolver KeyResolver
}

// NewStandardCodec creates a codec using the given key resolver. The
// resolver may be nil for deployments that never encrypt (no cold
// tier).
func NewStandardCodec(resolver KeyResolver) *StandardCodec {
	return &StandardCodec{resolver: resolver}
}

// Compress returns the gzip-compressed payload at the given level.
func (c *StandardCodec) Compress(payload []byte, level CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, int(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressed payload: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func (c *StandardCodec) Decompress(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed payload: %w", err)
	}
	defer r.Close()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}

	return decompressed, nil
}

// Encrypt seals the payload with AES-256-GCM under the handle's key.
// The nonce is prepended to the ciphertext.
func (c *StandardCodec) Encrypt(payload []byte, keyHandle string) ([]byte, error) {
	aead, err := c.aead(keyHandle)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, payload, nil), nil
}

// Decrypt reverses Encrypt.
func (c *StandardCodec) Decrypt(payload []byte, keyHandle string) ([]byte, error) {
	aead, err := c.aead(keyHandle)
	if err != nil {
		return nil, err
	}

	if len(payload) < aead.NonceSize() {
		return nil, fmt.Errorf("encrypted payload shorter than nonce")
	}
	nonce, ciphertext := payload[:aead.NonceSize()], payload[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	return plaintext, nil
}

func (c *StandardCodec) aead(keyHandle string) (cipher.AEAD, error) {
	if c.resolver == nil {
		return nil, fmt.Errorf("no key resolver configured, cannot use key handle %q", keyHandle)
	}

	key, err := c.resolver.ResolveKey(keyHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key handle: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return aead, nil
}
