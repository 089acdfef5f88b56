// Package uid provides unique identifier generation for ShelfStore.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New generates a 32-character hex string suitable for use as a unique
// identifier (temp file names, request IDs, etc.) using crypto/rand.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// NewVersionID generates an opaque object version identifier. The first
// 16 hex characters encode the mint time in nanoseconds, so IDs sort in
// creation order; the trailing 16 are random so an ID is never reused
// within a version chain.
func NewVersionID() string {
	now := uint64(time.Now().UnixNano())
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x%016x", now, now)
	}
	return fmt.Sprintf("%016x%s", now, hex.EncodeToString(b))
}
