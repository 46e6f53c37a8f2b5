// Package fingerprint derives the deduplication key of an upload from its bytes.
//
// Keys are lowercase hex SHA-256 digests, so identical content always maps to
// the same job regardless of filename or submission order.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Bytes returns the fingerprint of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader consumes r and returns its fingerprint and length.
func Reader(r io.Reader) (string, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return h.Sum(), n, nil
}

// Hasher accumulates a fingerprint from streamed writes, typically as one
// side of an io.MultiWriter while the upload is spooled to disk.
type Hasher struct {
	h hash.Hash
	n int64
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Size returns the number of bytes hashed so far.
func (h *Hasher) Size() int64 {
	return h.n
}

// Sum returns the hex fingerprint of everything written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}
