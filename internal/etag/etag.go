// Package etag computes and compares S3-compatible entity tags. An ETag is
// the MD5 hex digest of the object bytes, transmitted surrounded by double
// quotes the way S3 does.
package etag

import (
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Hasher computes an ETag incrementally while object bytes stream through.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a Hasher ready to receive object bytes.
func NewHasher() *Hasher {
	return &Hasher{h: md5.New()}
}

// Write adds p to the running digest. It never fails.
func (e *Hasher) Write(p []byte) (int, error) {
	return e.h.Write(p)
}

// Sum returns the quoted ETag for everything written so far.
func (e *Hasher) Sum() string {
	return fmt.Sprintf(`"%x"`, e.h.Sum(nil))
}

// Tee returns a reader that copies everything read from r into the hasher.
func (e *Hasher) Tee(r io.Reader) io.Reader {
	return io.TeeReader(r, e.h)
}

// FromBytes computes the quoted ETag of a complete byte slice.
func FromBytes(b []byte) string {
	return fmt.Sprintf(`"%x"`, md5.Sum(b))
}

// Normalize strips surrounding double quotes so ETags from headers,
// storage, and user input compare equal regardless of quoting.
func Normalize(e string) string {
	return strings.Trim(e, `"`)
}

// Equal reports whether two ETags match after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
