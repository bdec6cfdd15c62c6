// Package integrity computes and verifies SHA-256 checksums for
// archived payloads. Checksums are taken over the stored bytes, after
// any compression and encryption, so verification never requires
// decoding a payload.
package integrity
