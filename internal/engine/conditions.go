package engine

import (
	"strings"
	"time"

	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/etag"
	"github.com/shelfstore/shelfstore/internal/metadata"
)

// Conditions carries the preconditions of a request, parsed from the
// If-Match / If-None-Match / If-Modified-Since / If-Unmodified-Since headers
// (or their x-amz-copy-source-if-* equivalents).
type Conditions struct {
	// IfMatch requires the current ETag to equal one of these (or "*" to
	// require any current record).
	IfMatch []string
	// IfNoneMatch requires the current ETag to equal none of these; "*"
	// requires the key to be absent.
	IfNoneMatch []string
	// IfModifiedSince requires the current record to be newer than this time.
	IfModifiedSince time.Time
	// IfUnmodifiedSince requires the current record to be no newer than this time.
	IfUnmodifiedSince time.Time
}

// IsZero reports whether no precondition is set.
func (c *Conditions) IsZero() bool {
	return c == nil || (len(c.IfMatch) == 0 && len(c.IfNoneMatch) == 0 &&
		c.IfModifiedSince.IsZero() && c.IfUnmodifiedSince.IsZero())
}

// Evaluate checks the preconditions against the current record (nil when the
// chain has no current content version) and returns nil to allow the
// operation, ErrNotModified for short-circuited reads, or
// ErrPreconditionFailed.
//
// Precedence per RFC 7232: If-Match over If-Unmodified-Since, If-None-Match
// over If-Modified-Since. For reads an If-None-Match hit yields 304; for
// writes it yields 412.
func (c *Conditions) Evaluate(current *metadata.VersionRecord, isRead bool) error {
	if c.IsZero() {
		return nil
	}

	var currentETag string
	var lastModified time.Time
	exists := current != nil && !current.DeleteMarker
	if exists {
		currentETag = etag.Normalize(current.ETag)
		lastModified = current.LastModified
	}

	// Step 1: If-Match.
	if len(c.IfMatch) > 0 {
		if !exists || !matchAny(c.IfMatch, currentETag) {
			return s3err.ErrPreconditionFailed
		}
	}

	// Step 2: If-Unmodified-Since (only if If-Match was not present).
	if len(c.IfMatch) == 0 && !c.IfUnmodifiedSince.IsZero() && exists {
		if lastModified.Truncate(time.Second).After(c.IfUnmodifiedSince.Truncate(time.Second)) {
			return s3err.ErrPreconditionFailed
		}
	}

	// Step 3: If-None-Match.
	if len(c.IfNoneMatch) > 0 && exists && matchAny(c.IfNoneMatch, currentETag) {
		if isRead {
			return s3err.ErrNotModified
		}
		return s3err.ErrPreconditionFailed
	}

	// Step 4: If-Modified-Since (only if If-None-Match was not present).
	if len(c.IfNoneMatch) == 0 && !c.IfModifiedSince.IsZero() && exists && isRead {
		if !lastModified.Truncate(time.Second).After(c.IfModifiedSince.Truncate(time.Second)) {
			return s3err.ErrNotModified
		}
	}

	return nil
}

// EvaluateCopySource checks the preconditions against a copy source
// version. Unlike Evaluate there is no 304 short-circuit: every failed
// x-amz-copy-source-if-* condition is PreconditionFailed. The precedence
// pairs are the same as for Evaluate.
func (c *Conditions) EvaluateCopySource(src *metadata.VersionRecord) error {
	if c.IsZero() {
		return nil
	}

	srcETag := etag.Normalize(src.ETag)
	lastModified := src.LastModified

	if len(c.IfMatch) > 0 {
		if !matchAny(c.IfMatch, srcETag) {
			return s3err.ErrPreconditionFailed
		}
	} else if !c.IfUnmodifiedSince.IsZero() {
		if lastModified.Truncate(time.Second).After(c.IfUnmodifiedSince.Truncate(time.Second)) {
			return s3err.ErrPreconditionFailed
		}
	}

	if len(c.IfNoneMatch) > 0 {
		if matchAny(c.IfNoneMatch, srcETag) {
			return s3err.ErrPreconditionFailed
		}
	} else if !c.IfModifiedSince.IsZero() {
		if !lastModified.Truncate(time.Second).After(c.IfModifiedSince.Truncate(time.Second)) {
			return s3err.ErrPreconditionFailed
		}
	}

	return nil
}

// matchAny reports whether the target ETag matches any entry of a
// comma-separated precondition list. "*" matches any existing record.
func matchAny(tags []string, target string) bool {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "*" || etag.Normalize(tag) == target {
			return true
		}
	}
	return false
}

// ParseETagList splits a header value like `"etag1", "etag2"` into its
// entries, preserving "*" as-is.
func ParseETagList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
