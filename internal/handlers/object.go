package handlers

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/shelfstore/shelfstore/internal/engine"
	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/xmlutil"
)

// ObjectHandler contains handlers for object-level operations.
type ObjectHandler struct {
	eng           *engine.Engine
	ownerID       string
	ownerDisplay  string
	maxObjectSize int64
}

// NewObjectHandler creates a new ObjectHandler over the given engine.
// maxObjectSize caps PutObject request bodies; zero means no cap.
func NewObjectHandler(eng *engine.Engine, ownerID, ownerDisplay string, maxObjectSize int64) *ObjectHandler {
	return &ObjectHandler{
		eng:           eng,
		ownerID:       ownerID,
		ownerDisplay:  ownerDisplay,
		maxObjectSize: maxObjectSize,
	}
}

// PutObject handles PUT /{bucket}/{object} and writes a new version into the
// key's chain. The bucket's versioning mode decides whether the write lands
// in the "null" slot or under a fresh version ID; the response's
// x-amz-version-id header reports which.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	if h.maxObjectSize > 0 {
		if r.ContentLength > h.maxObjectSize {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxObjectSize)
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	in := &engine.PutObjectInput{
		Bucket:       extractBucketName(r),
		Key:          extractObjectKey(r),
		Body:         r.Body,
		ContentType:  contentType,
		StorageClass: "STANDARD",
		UserMetadata: extractUserMetadata(r),
		Conditions:   parseConditions(r.Header),
	}
	if sc := r.Header.Get("x-amz-storage-class"); sc != "" {
		in.StorageClass = sc
	}

	// Per-version Object Lock headers.
	in.RetentionMode = r.Header.Get("x-amz-object-lock-mode")
	if v := r.Header.Get("x-amz-object-lock-retain-until-date"); v != "" {
		t, err := xmlutil.ParseTimeS3(v)
		if err != nil {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
			return
		}
		in.RetainUntil = t
	}
	in.LegalHold = r.Header.Get("x-amz-object-lock-legal-hold") == "ON"

	record, err := h.eng.PutObject(r.Context(), in)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	w.Header().Set("ETag", record.ETag)
	w.Header().Set("x-amz-version-id", record.VersionID)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{bucket}/{object}. Without a versionId query it
// reads the current version; with one it reads that exact version. Supports
// range requests and conditional requests.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	out, err := h.eng.GetObject(r.Context(), &engine.GetObjectInput{
		Bucket:      extractBucketName(r),
		Key:         extractObjectKey(r),
		VersionID:   r.URL.Query().Get("versionId"),
		Conditions:  parseConditions(r.Header),
		IncludeBody: true,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	defer out.Body.Close()
	v := out.Version

	// Check for range request.
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		start, end, rangeErr := parseRange(rangeHeader, v.Size)
		if rangeErr != nil {
			// 416 Range Not Satisfiable.
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", v.Size))
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRange)
			return
		}

		// Seek to the start position.
		if seeker, ok := out.Body.(io.ReadSeeker); ok {
			if _, seekErr := seeker.Seek(start, io.SeekStart); seekErr != nil {
				writeEngineError(w, r, seekErr)
				return
			}
		} else {
			// Fall back to discarding bytes.
			if _, discardErr := io.CopyN(io.Discard, out.Body, start); discardErr != nil {
				writeEngineError(w, r, discardErr)
				return
			}
		}

		rangeLen := end - start + 1

		setVersionResponseHeaders(w, v)
		w.Header().Set("Content-Length", strconv.FormatInt(rangeLen, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, v.Size))
		w.WriteHeader(http.StatusPartialContent)

		io.CopyN(w, out.Body, rangeLen)
		return
	}

	// Full object response.
	setVersionResponseHeaders(w, v)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, out.Body)
}

// HeadObject handles HEAD /{bucket}/{object} and returns version metadata
// without the body.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	out, err := h.eng.GetObject(r.Context(), &engine.GetObjectInput{
		Bucket:     extractBucketName(r),
		Key:        extractObjectKey(r),
		VersionID:  r.URL.Query().Get("versionId"),
		Conditions: parseConditions(r.Header),
	})
	if err != nil {
		writeEngineStatus(w, r, err)
		return
	}

	setVersionResponseHeaders(w, out.Version)
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{object}. Without a versionId it
// applies the bucket's versioning-mode delete branch (which may write a
// delete marker); with one it permanently removes that exact version.
// Responds 204 either way; the x-amz-delete-marker and x-amz-version-id
// headers report what happened.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	out, err := h.eng.DeleteObject(r.Context(), &engine.DeleteObjectInput{
		Bucket:           extractBucketName(r),
		Key:              extractObjectKey(r),
		VersionID:        r.URL.Query().Get("versionId"),
		BypassGovernance: bypassGovernance(r),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if out.DeleteMarker {
		w.Header().Set("x-amz-delete-marker", "true")
	}
	if out.VersionID != "" {
		w.Header().Set("x-amz-version-id", out.VersionID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteObjects handles POST /{bucket}?delete, the best-effort multi-object
// delete. Each entry succeeds or fails on its own; the response lists both.
func (h *ObjectHandler) DeleteObjects(w http.ResponseWriter, r *http.Request) {
	var req xmlutil.DeleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	objects := make([]engine.ObjectIdentifier, 0, len(req.Objects))
	for _, o := range req.Objects {
		objects = append(objects, engine.ObjectIdentifier{Key: o.Key, VersionID: o.VersionID})
	}

	result, err := h.eng.DeleteObjects(r.Context(), extractBucketName(r), objects, bypassGovernance(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := &xmlutil.DeleteResult{}
	if !req.Quiet {
		for _, d := range result.Deleted {
			out.Deleted = append(out.Deleted, xmlutil.DeletedItem{
				Key:                   d.Key,
				VersionID:             d.VersionID,
				DeleteMarker:          d.DeleteMarker,
				DeleteMarkerVersionID: d.DeleteMarkerVersionID,
			})
		}
	}
	for _, e := range result.Errors {
		out.Errors = append(out.Errors, xmlutil.DeleteError{
			Key:       e.Key,
			VersionID: e.VersionID,
			Code:      e.Code,
			Message:   e.Message,
		})
	}
	xmlutil.RenderDeleteResult(w, out)
}

// CopyObject handles PUT /{bucket}/{object} with an X-Amz-Copy-Source
// header. The source may name an exact version with ?versionId=; the copy
// lands in the destination chain under the destination bucket's versioning
// branch.
func (h *ObjectHandler) CopyObject(w http.ResponseWriter, r *http.Request) {
	srcBucket, srcKey, srcVersionID, ok := parseCopySource(r.Header.Get("X-Amz-Copy-Source"))
	if !ok {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	directive := r.Header.Get("x-amz-metadata-directive")
	if directive == "" {
		directive = engine.MetadataDirectiveCopy
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	in := &engine.CopyObjectInput{
		SrcBucket:         srcBucket,
		SrcKey:            srcKey,
		SrcVersionID:      srcVersionID,
		DstBucket:         extractBucketName(r),
		DstKey:            extractObjectKey(r),
		MetadataDirective: directive,
		ContentType:       contentType,
		UserMetadata:      extractUserMetadata(r),
		StorageClass:      "STANDARD",
		Conditions:        parseCopySourceConditions(r.Header),
	}
	if sc := r.Header.Get("x-amz-storage-class"); sc != "" {
		in.StorageClass = sc
	}

	record, err := h.eng.CopyObject(r.Context(), in)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if srcVersionID != "" {
		w.Header().Set("x-amz-copy-source-version-id", srcVersionID)
	}
	w.Header().Set("x-amz-version-id", record.VersionID)
	xmlutil.RenderCopyObject(w, &xmlutil.CopyObjectResult{
		LastModified: xmlutil.FormatTimeS3(record.LastModified),
		ETag:         record.ETag,
	})
}

// ListObjectVersions handles GET /{bucket}?versions and returns one page of
// the bucket's version chains, content versions and delete markers in
// separate element lists.
func (h *ObjectHandler) ListObjectVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucketName := extractBucketName(r)

	opts := metadata.ListVersionsOptions{
		Prefix:          q.Get("prefix"),
		KeyMarker:       q.Get("key-marker"),
		VersionIDMarker: q.Get("version-id-marker"),
	}
	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
			return
		}
		opts.MaxKeys = n
	}
	if opts.MaxKeys <= 0 || opts.MaxKeys > 1000 {
		opts.MaxKeys = 1000
	}

	result, err := h.eng.ListVersions(r.Context(), bucketName, opts)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	encodingType := q.Get("encoding-type")
	owner := &xmlutil.Owner{ID: h.ownerID, DisplayName: h.ownerDisplay}

	out := &xmlutil.ListVersionsResult{
		Name:                bucketName,
		Prefix:              xmlutil.EncodeKeyURL(opts.Prefix, encodingType),
		KeyMarker:           xmlutil.EncodeKeyURL(opts.KeyMarker, encodingType),
		VersionIDMarker:     opts.VersionIDMarker,
		NextKeyMarker:       xmlutil.EncodeKeyURL(result.NextKeyMarker, encodingType),
		NextVersionIDMarker: result.NextVersionIDMarker,
		MaxKeys:             opts.MaxKeys,
		EncodingType:        encodingType,
		IsTruncated:         result.IsTruncated,
	}

	for _, v := range result.Versions {
		if v.DeleteMarker {
			out.DeleteMarkers = append(out.DeleteMarkers, xmlutil.DeleteMarkerEntry{
				Key:          xmlutil.EncodeKeyURL(v.Key, encodingType),
				VersionID:    v.VersionID,
				IsLatest:     v.IsLatest,
				LastModified: xmlutil.FormatTimeS3(v.LastModified),
				Owner:        owner,
			})
			continue
		}
		out.Versions = append(out.Versions, xmlutil.Version{
			Key:          xmlutil.EncodeKeyURL(v.Key, encodingType),
			VersionID:    v.VersionID,
			IsLatest:     v.IsLatest,
			LastModified: xmlutil.FormatTimeS3(v.LastModified),
			ETag:         v.ETag,
			Size:         v.Size,
			StorageClass: v.StorageClass,
			Owner:        owner,
		})
	}

	xmlutil.RenderListVersions(w, out)
}

// GetObjectRetention handles GET /{bucket}/{object}?retention.
func (h *ObjectHandler) GetObjectRetention(w http.ResponseWriter, r *http.Request) {
	mode, until, err := h.eng.GetObjectRetention(r.Context(),
		extractBucketName(r), extractObjectKey(r), r.URL.Query().Get("versionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	xmlutil.RenderRetention(w, mode, until)
}

// PutObjectRetention handles PUT /{bucket}/{object}?retention. Weakening an
// active GOVERNANCE period requires the governance bypass header;
// COMPLIANCE periods never weaken.
func (h *ObjectHandler) PutObjectRetention(w http.ResponseWriter, r *http.Request) {
	var in xmlutil.Retention
	if err := xml.NewDecoder(r.Body).Decode(&in); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	until, err := xmlutil.ParseTimeS3(in.RetainUntilDate)
	if err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	if err := h.eng.PutObjectRetention(r.Context(), &engine.RetentionInput{
		Bucket:           extractBucketName(r),
		Key:              extractObjectKey(r),
		VersionID:        r.URL.Query().Get("versionId"),
		Mode:             in.Mode,
		RetainUntil:      until,
		BypassGovernance: bypassGovernance(r),
	}); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetObjectLegalHold handles GET /{bucket}/{object}?legal-hold.
func (h *ObjectHandler) GetObjectLegalHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.eng.GetObjectLegalHold(r.Context(),
		extractBucketName(r), extractObjectKey(r), r.URL.Query().Get("versionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	status := "OFF"
	if hold {
		status = "ON"
	}
	xmlutil.RenderLegalHold(w, status)
}

// PutObjectLegalHold handles PUT /{bucket}/{object}?legal-hold.
func (h *ObjectHandler) PutObjectLegalHold(w http.ResponseWriter, r *http.Request) {
	var in xmlutil.LegalHold
	if err := xml.NewDecoder(r.Body).Decode(&in); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}
	if in.Status != "ON" && in.Status != "OFF" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	if err := h.eng.PutObjectLegalHold(r.Context(),
		extractBucketName(r), extractObjectKey(r), r.URL.Query().Get("versionId"),
		in.Status == "ON"); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
