package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// Checksum computes the SHA-256 hash of the payload and returns it as
// a hex-encoded string. Unlike request-log hashing, archival checksums
// always cover the full payload: a truncated hash cannot detect
// corruption in the tail of a record that may live for decades.
//
// Returns an empty string if the payload is empty.
func Checksum(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// ChecksumReader computes the hex-encoded SHA-256 hash of everything
// readable from r. Use this for payloads too large to hold in memory.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash payload stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether the payload hashes to the expected checksum.
// The comparison is constant-time; an empty expected checksum matches
// only an empty payload.
func Matches(expected string, payload []byte) bool {
	actual := Checksum(payload)
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
