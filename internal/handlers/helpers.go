// Package handlers implements HTTP request handlers for the S3-compatible API.
package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shelfstore/shelfstore/internal/engine"
	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/xmlutil"
)

// extractBucketName extracts the bucket name from the URL path.
func extractBucketName(r *http.Request) string {
	path := r.URL.Path
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Find the first slash (if any) to separate bucket from key.
	idx := strings.IndexByte(path, '/')
	if idx >= 0 {
		return path[:idx]
	}
	return path
}

// extractObjectKey extracts the object key from the URL path (everything
// after the bucket segment).
func extractObjectKey(r *http.Request) string {
	path := r.URL.Path
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[idx+1:]
}

// extractUserMetadata scans request headers for x-amz-meta-* prefixed headers
// and returns them as a map. The prefix is stripped and the key is lowercased.
func extractUserMetadata(r *http.Request) map[string]string {
	meta := make(map[string]string)
	for key, values := range r.Header {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "x-amz-meta-") {
			metaKey := lower[len("x-amz-meta-"):]
			if len(values) > 0 && metaKey != "" {
				meta[metaKey] = values[0]
			}
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// parseConditions builds engine preconditions from the standard conditional
// request headers. Returns nil when none are present.
func parseConditions(h http.Header) *engine.Conditions {
	c := &engine.Conditions{
		IfMatch:     engine.ParseETagList(h.Get("If-Match")),
		IfNoneMatch: engine.ParseETagList(h.Get("If-None-Match")),
	}
	if v := h.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.IfModifiedSince = t
		}
	}
	if v := h.Get("If-Unmodified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.IfUnmodifiedSince = t
		}
	}
	if c.IsZero() {
		return nil
	}
	return c
}

// parseCopySourceConditions builds preconditions from the
// x-amz-copy-source-if-* headers, which are evaluated against the source
// version of a copy.
func parseCopySourceConditions(h http.Header) *engine.Conditions {
	c := &engine.Conditions{
		IfMatch:     engine.ParseETagList(h.Get("x-amz-copy-source-if-match")),
		IfNoneMatch: engine.ParseETagList(h.Get("x-amz-copy-source-if-none-match")),
	}
	if v := h.Get("x-amz-copy-source-if-modified-since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.IfModifiedSince = t
		}
	}
	if v := h.Get("x-amz-copy-source-if-unmodified-since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.IfUnmodifiedSince = t
		}
	}
	if c.IsZero() {
		return nil
	}
	return c
}

// parseCopySource parses the X-Amz-Copy-Source header and returns the source
// bucket, key, and optional versionId. The header value is URL-decoded and
// expected in the format "/bucket/key", "bucket/key", or either with a
// "?versionId=..." suffix.
func parseCopySource(header string) (bucket, key, versionID string, ok bool) {
	// Split off the versionId query, if present, before decoding.
	if qIdx := strings.Index(header, "?"); qIdx >= 0 {
		q, err := url.ParseQuery(header[qIdx+1:])
		if err != nil {
			return "", "", "", false
		}
		versionID = q.Get("versionId")
		header = header[:qIdx]
	}

	decoded, err := url.PathUnescape(header)
	if err != nil {
		return "", "", "", false
	}

	decoded = strings.TrimPrefix(decoded, "/")
	if decoded == "" {
		return "", "", "", false
	}

	// Split into bucket/key at the first slash.
	idx := strings.IndexByte(decoded, '/')
	if idx < 0 || idx == len(decoded)-1 {
		return "", "", "", false
	}

	return decoded[:idx], decoded[idx+1:], versionID, true
}

// bypassGovernance reports whether the request asks to bypass GOVERNANCE
// retention.
func bypassGovernance(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("x-amz-bypass-governance-retention"), "true")
}

// applyErrorHeaders surfaces engine error context that S3 transmits as
// response headers rather than XML body fields: whether the miss was a
// delete marker, and which version produced it.
func applyErrorHeaders(w http.ResponseWriter, s3e *s3err.S3Error) {
	if v, ok := s3e.ExtraFields["DeleteMarker"]; ok {
		w.Header().Set("x-amz-delete-marker", v)
	}
	if v, ok := s3e.ExtraFields["VersionID"]; ok {
		w.Header().Set("x-amz-version-id", v)
	}
}

// writeEngineError maps an engine error onto the wire: S3Errors render as
// S3 error XML with their status, anything else logs and becomes a 500.
// 304 responses carry no body.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	s3e, ok := err.(*s3err.S3Error)
	if !ok {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s3e = s3err.ErrInternalError
	}
	applyErrorHeaders(w, s3e)
	if s3e.HTTPStatus == http.StatusNotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	xmlutil.WriteErrorResponse(w, r, s3e)
}

// writeEngineStatus is the bodyless variant of writeEngineError, used by
// HEAD handlers.
func writeEngineStatus(w http.ResponseWriter, r *http.Request, err error) {
	s3e, ok := err.(*s3err.S3Error)
	if !ok {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s3e = s3err.ErrInternalError
	}
	applyErrorHeaders(w, s3e)
	w.WriteHeader(s3e.HTTPStatus)
}

// setVersionResponseHeaders sets standard S3 object response headers from a
// version record. Used by GetObject and HeadObject.
func setVersionResponseHeaders(w http.ResponseWriter, v *metadata.VersionRecord) {
	contentType := v.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", v.ETag)
	w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(v.LastModified))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("x-amz-version-id", v.VersionID)

	if v.StorageClass != "" && v.StorageClass != "STANDARD" {
		w.Header().Set("x-amz-storage-class", v.StorageClass)
	}
	if v.RetentionMode != "" {
		w.Header().Set("x-amz-object-lock-mode", v.RetentionMode)
		w.Header().Set("x-amz-object-lock-retain-until-date", xmlutil.FormatTimeS3(v.RetentionUntil))
	}
	if v.LegalHold {
		w.Header().Set("x-amz-object-lock-legal-hold", "ON")
	}

	// Emit user metadata as x-amz-meta-* headers.
	for key, value := range v.UserMetadata {
		w.Header().Set("x-amz-meta-"+strings.ToLower(key), value)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(v.Size, 10))
}

// parseRange parses an HTTP Range header value and returns the byte range
// [start, end] inclusive. Supports three formats:
//   - bytes=0-4   (first 5 bytes)
//   - bytes=5-    (from byte 5 to end)
//   - bytes=-10   (last 10 bytes)
//
// Returns an error for unsatisfiable ranges or invalid syntax.
func parseRange(rangeHeader string, objectSize int64) (start, end int64, err error) {
	if objectSize == 0 {
		return 0, 0, fmt.Errorf("empty object")
	}

	// Must start with "bytes=".
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range header: missing bytes= prefix")
	}

	rangeSpec := strings.TrimPrefix(rangeHeader, "bytes=")

	// We only support a single range (no multi-range).
	if strings.Contains(rangeSpec, ",") {
		return 0, 0, fmt.Errorf("multi-range not supported")
	}

	parts := strings.SplitN(rangeSpec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range spec: %q", rangeSpec)
	}

	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" && endStr == "" {
		return 0, 0, fmt.Errorf("invalid range: both start and end are empty")
	}

	if startStr == "" {
		// Suffix range: bytes=-N (last N bytes).
		suffixLen, parseErr := strconv.ParseInt(endStr, 10, 64)
		if parseErr != nil || suffixLen <= 0 {
			return 0, 0, fmt.Errorf("invalid suffix length: %q", endStr)
		}
		if suffixLen >= objectSize {
			// Entire object.
			return 0, objectSize - 1, nil
		}
		return objectSize - suffixLen, objectSize - 1, nil
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid range start: %q", startStr)
	}

	if start >= objectSize {
		return 0, 0, fmt.Errorf("range start %d beyond object size %d", start, objectSize)
	}

	if endStr == "" {
		// Open-ended range: bytes=N- (from byte N to end).
		return start, objectSize - 1, nil
	}

	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, fmt.Errorf("invalid range end: %q", endStr)
	}

	// Clamp end to last byte.
	if end >= objectSize {
		end = objectSize - 1
	}

	if start > end {
		return 0, 0, fmt.Errorf("range start %d > end %d", start, end)
	}

	return start, end, nil
}

// readBody reads a request body up to limit bytes.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, limit))
}
