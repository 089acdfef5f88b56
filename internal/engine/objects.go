package engine

import (
	"context"
	"io"
	"time"

	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/uid"
)

// maxKeyLength is the maximum object key length in bytes, per S3.
const maxKeyLength = 1024

// PutObjectInput carries a PutObject request.
type PutObjectInput struct {
	Bucket       string
	Key          string
	Body         io.Reader
	ContentType  string
	StorageClass string
	UserMetadata map[string]string
	Conditions   *Conditions

	// Optional per-version Object Lock state. Requires the bucket to have
	// Object Lock enabled.
	RetentionMode string
	RetainUntil   time.Time
	LegalHold     bool
}

// PutObject writes a new object version. The versioning mode decides the
// branch: Enabled appends under a fresh version ID after archiving the
// current record; Off and Suspended overwrite the "null" slot in place.
// The whole read-decide-write sequence runs in one atomic unit.
func (e *Engine) PutObject(ctx context.Context, in *PutObjectInput) (*metadata.VersionRecord, error) {
	if in.Key == "" {
		return nil, s3err.ErrInvalidArgument
	}
	if len(in.Key) > maxKeyLength {
		return nil, s3err.ErrKeyTooLongError
	}

	var record *metadata.VersionRecord
	err := e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		b, err := resolveBucket(ctx, tx, in.Bucket)
		if err != nil {
			return err
		}

		current, err := tx.GetCurrentVersion(ctx, in.Bucket, in.Key)
		if err != nil {
			return err
		}
		if err := in.Conditions.Evaluate(current, false); err != nil {
			return err
		}

		versionID := metadata.NullVersionID
		if putBranchFor(b.VersioningMode) == putAppendVersion {
			versionID = uid.NewVersionID()
		}

		size, tag, err := e.blobs.PutBlob(ctx, in.Bucket, in.Key, versionID, in.Body)
		if err != nil {
			return err
		}

		record = &metadata.VersionRecord{
			Bucket:       in.Bucket,
			Key:          in.Key,
			VersionID:    versionID,
			IsLatest:     true,
			Size:         size,
			ETag:         tag,
			ContentType:  in.ContentType,
			StorageClass: in.StorageClass,
			UserMetadata: in.UserMetadata,
			LastModified: e.now(),
		}
		if err := applyLockState(b, in, record, e.now()); err != nil {
			return err
		}

		// Archive whatever held the latest slot; the null-slot record, if
		// that is the branch, is then replaced in place by primary key.
		if err := tx.DemoteCurrent(ctx, in.Bucket, in.Key); err != nil {
			return err
		}
		return tx.PutVersion(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// applyLockState fills a new record's Object Lock fields from the request
// or, absent an explicit setting, from the bucket's default retention rule.
func applyLockState(b *metadata.BucketRecord, in *PutObjectInput, record *metadata.VersionRecord, now time.Time) error {
	if in.RetentionMode != "" || in.LegalHold {
		if !b.ObjectLockEnabled {
			return s3err.ErrInvalidRequest.WithMessage("Bucket is missing Object Lock Configuration")
		}
	}
	if in.RetentionMode != "" {
		if in.RetentionMode != metadata.RetentionGovernance && in.RetentionMode != metadata.RetentionCompliance {
			return s3err.ErrInvalidArgument
		}
		if !in.RetainUntil.After(now) {
			return s3err.ErrInvalidRetentionPeriod.WithMessage("The retain until date must be in the future")
		}
		record.RetentionMode = in.RetentionMode
		record.RetentionUntil = in.RetainUntil
	} else if b.ObjectLockEnabled && b.DefaultRetention != nil {
		record.RetentionMode = b.DefaultRetention.Mode
		record.RetentionUntil = now.AddDate(b.DefaultRetention.Years, 0, b.DefaultRetention.Days)
	}
	record.LegalHold = in.LegalHold
	return nil
}

// GetObjectInput carries a GetObject or HeadObject request.
type GetObjectInput struct {
	Bucket     string
	Key        string
	VersionID  string
	Conditions *Conditions
	// IncludeBody opens the blob for reading; HeadObject leaves it false.
	IncludeBody bool
}

// GetObjectOutput is a resolved version and, for GetObject, its data stream.
// The caller must close Body when non-nil.
type GetObjectOutput struct {
	Version *metadata.VersionRecord
	Body    io.ReadCloser
}

// GetObject resolves the current version, or an exact version when a
// version ID is given. A delete marker in the latest slot reads as
// NoSuchKey; fetching a delete marker by its version ID is
// MethodNotAllowed, since markers have no content.
func (e *Engine) GetObject(ctx context.Context, in *GetObjectInput) (*GetObjectOutput, error) {
	if _, err := resolveBucket(ctx, e.meta, in.Bucket); err != nil {
		return nil, err
	}

	var v *metadata.VersionRecord
	var err error
	if in.VersionID == "" {
		v, err = e.meta.GetCurrentVersion(ctx, in.Bucket, in.Key)
	} else {
		v, err = e.meta.GetVersion(ctx, in.Bucket, in.Key, in.VersionID)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case v == nil && in.VersionID == "":
		return nil, s3err.ErrNoSuchKey
	case v == nil:
		return nil, s3err.ErrNoSuchVersion
	case v.DeleteMarker && in.VersionID == "":
		return nil, s3err.ErrNoSuchKey.
			WithExtra("DeleteMarker", "true").
			WithExtra("VersionID", v.VersionID)
	case v.DeleteMarker:
		return nil, s3err.ErrMethodNotAllowed.
			WithExtra("DeleteMarker", "true").
			WithExtra("VersionID", v.VersionID)
	}

	if err := in.Conditions.Evaluate(v, true); err != nil {
		return nil, err
	}

	out := &GetObjectOutput{Version: v}
	if in.IncludeBody {
		body, _, err := e.blobs.GetBlob(ctx, in.Bucket, in.Key, v.VersionID)
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

// DeleteObjectInput carries a DeleteObject request.
type DeleteObjectInput struct {
	Bucket           string
	Key              string
	VersionID        string
	BypassGovernance bool
}

// DeleteObjectOutput reports what the delete did: the version ID it created
// or removed, and whether a delete marker was involved.
type DeleteObjectOutput struct {
	VersionID    string
	DeleteMarker bool
}

// DeleteObject applies the versioning-mode delete branch, or permanently
// removes an exact version when a version ID is given. Permanent removal is
// gated by the retention guard.
func (e *Engine) DeleteObject(ctx context.Context, in *DeleteObjectInput) (*DeleteObjectOutput, error) {
	var out DeleteObjectOutput
	// Blob removal happens after the metadata unit commits; removing bytes
	// for a rolled-back delete would corrupt surviving records.
	var removeBlobs []string

	err := e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		removeBlobs = removeBlobs[:0]
		b, err := resolveBucket(ctx, tx, in.Bucket)
		if err != nil {
			return err
		}

		if in.VersionID != "" {
			return e.deleteExactVersion(ctx, tx, in, &out, &removeBlobs)
		}

		switch deleteBranchFor(b.VersioningMode) {
		case deleteRemove:
			// Unversioned bucket: remove the record entirely. Deleting an
			// absent key succeeds with no state change.
			current, err := tx.GetCurrentVersion(ctx, in.Bucket, in.Key)
			if err != nil {
				return err
			}
			if current == nil {
				return nil
			}
			if err := tx.DeleteVersion(ctx, in.Bucket, in.Key, current.VersionID); err != nil {
				return err
			}
			removeBlobs = append(removeBlobs, current.VersionID)
			return nil

		case deleteAppendMarker:
			if err := tx.DemoteCurrent(ctx, in.Bucket, in.Key); err != nil {
				return err
			}
			marker := &metadata.VersionRecord{
				Bucket:       in.Bucket,
				Key:          in.Key,
				VersionID:    uid.NewVersionID(),
				IsLatest:     true,
				DeleteMarker: true,
				LastModified: e.now(),
			}
			if err := tx.PutVersion(ctx, marker); err != nil {
				return err
			}
			out.VersionID = marker.VersionID
			out.DeleteMarker = true
			return nil

		default: // deleteReplaceNullWithMarker
			// Remove the null-slot content record, if present. Its removal
			// is permanent, so the retention guard applies.
			slot, err := tx.GetVersion(ctx, in.Bucket, in.Key, metadata.NullVersionID)
			if err != nil {
				return err
			}
			if slot != nil && !slot.DeleteMarker {
				if err := checkDeletable(slot, in.BypassGovernance, e.now()); err != nil {
					return err
				}
				removeBlobs = append(removeBlobs, slot.VersionID)
			}
			if err := tx.DemoteCurrent(ctx, in.Bucket, in.Key); err != nil {
				return err
			}
			marker := &metadata.VersionRecord{
				Bucket:       in.Bucket,
				Key:          in.Key,
				VersionID:    metadata.NullVersionID,
				IsLatest:     true,
				DeleteMarker: true,
				LastModified: e.now(),
			}
			if err := tx.PutVersion(ctx, marker); err != nil {
				return err
			}
			out.VersionID = metadata.NullVersionID
			out.DeleteMarker = true
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	for _, versionID := range removeBlobs {
		if e.pendingBlobDeletes != nil {
			*e.pendingBlobDeletes = append(*e.pendingBlobDeletes,
				blobRef{bucket: in.Bucket, key: in.Key, versionID: versionID})
			continue
		}
		if err := e.blobs.DeleteBlob(ctx, in.Bucket, in.Key, versionID); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// deleteExactVersion permanently removes one record from a chain and, when
// that record held the latest slot, promotes the next-most-recent entry.
func (e *Engine) deleteExactVersion(ctx context.Context, tx metadata.Store, in *DeleteObjectInput, out *DeleteObjectOutput, removeBlobs *[]string) error {
	v, err := tx.GetVersion(ctx, in.Bucket, in.Key, in.VersionID)
	if err != nil {
		return err
	}
	if v == nil {
		return s3err.ErrNoSuchVersion
	}
	if err := checkDeletable(v, in.BypassGovernance, e.now()); err != nil {
		return err
	}

	if err := tx.DeleteVersion(ctx, in.Bucket, in.Key, v.VersionID); err != nil {
		return err
	}
	if !v.DeleteMarker {
		*removeBlobs = append(*removeBlobs, v.VersionID)
	}

	if v.IsLatest {
		next, err := tx.NewestVersion(ctx, in.Bucket, in.Key)
		if err != nil {
			return err
		}
		if next != nil {
			next.IsLatest = true
			if err := tx.PutVersion(ctx, next); err != nil {
				return err
			}
		}
	}

	out.VersionID = v.VersionID
	out.DeleteMarker = v.DeleteMarker
	return nil
}

// Metadata directives for CopyObject.
const (
	MetadataDirectiveCopy    = "COPY"
	MetadataDirectiveReplace = "REPLACE"
)

// CopyObjectInput carries a CopyObject request.
type CopyObjectInput struct {
	SrcBucket    string
	SrcKey       string
	SrcVersionID string
	DstBucket    string
	DstKey       string

	// MetadataDirective selects whether the copy keeps the source's
	// content type and user metadata (COPY, the default) or takes the
	// values below (REPLACE).
	MetadataDirective string
	ContentType       string
	UserMetadata      map[string]string
	StorageClass      string

	// Conditions are evaluated against the source version
	// (x-amz-copy-source-if-* headers).
	Conditions *Conditions
}

// CopyObject copies a source version into the destination chain, applying
// the destination bucket's versioning branch like any other write.
func (e *Engine) CopyObject(ctx context.Context, in *CopyObjectInput) (*metadata.VersionRecord, error) {
	if in.DstKey == "" {
		return nil, s3err.ErrInvalidArgument
	}
	if len(in.DstKey) > maxKeyLength {
		return nil, s3err.ErrKeyTooLongError
	}

	var record *metadata.VersionRecord
	err := e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		if _, err := resolveBucket(ctx, tx, in.SrcBucket); err != nil {
			return err
		}
		dstBucket, err := resolveBucket(ctx, tx, in.DstBucket)
		if err != nil {
			return err
		}

		var src *metadata.VersionRecord
		if in.SrcVersionID == "" {
			src, err = tx.GetCurrentVersion(ctx, in.SrcBucket, in.SrcKey)
		} else {
			src, err = tx.GetVersion(ctx, in.SrcBucket, in.SrcKey, in.SrcVersionID)
		}
		if err != nil {
			return err
		}
		switch {
		case src == nil && in.SrcVersionID == "":
			return s3err.ErrNoSuchKey
		case src == nil:
			return s3err.ErrNoSuchVersion
		case src.DeleteMarker && in.SrcVersionID == "":
			return s3err.ErrNoSuchKey
		case src.DeleteMarker:
			return s3err.ErrInvalidRequest.WithMessage("The source of a copy request may not be a delete marker")
		}

		if err := in.Conditions.EvaluateCopySource(src); err != nil {
			return err
		}

		versionID := metadata.NullVersionID
		if putBranchFor(dstBucket.VersioningMode) == putAppendVersion {
			versionID = uid.NewVersionID()
		}

		size, tag, err := e.blobs.CopyBlob(ctx,
			in.SrcBucket, in.SrcKey, src.VersionID,
			in.DstBucket, in.DstKey, versionID)
		if err != nil {
			return err
		}

		record = &metadata.VersionRecord{
			Bucket:       in.DstBucket,
			Key:          in.DstKey,
			VersionID:    versionID,
			IsLatest:     true,
			Size:         size,
			ETag:         tag,
			ContentType:  src.ContentType,
			StorageClass: in.StorageClass,
			UserMetadata: src.UserMetadata,
			LastModified: e.now(),
		}
		if in.MetadataDirective == MetadataDirectiveReplace {
			record.ContentType = in.ContentType
			record.UserMetadata = in.UserMetadata
		}

		if err := tx.DemoteCurrent(ctx, in.DstBucket, in.DstKey); err != nil {
			return err
		}
		return tx.PutVersion(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListVersions returns one page of a bucket's version chains, ordered by
// key ascending and recency descending within a key.
func (e *Engine) ListVersions(ctx context.Context, bucket string, opts metadata.ListVersionsOptions) (*metadata.ListVersionsResult, error) {
	if _, err := resolveBucket(ctx, e.meta, bucket); err != nil {
		return nil, err
	}
	if opts.MaxKeys <= 0 || opts.MaxKeys > e.maxListVersions {
		opts.MaxKeys = e.maxListVersions
	}
	return e.meta.ListVersions(ctx, bucket, opts)
}

// resolveBucket fetches a bucket record or fails with NoSuchBucket.
func resolveBucket(ctx context.Context, store metadata.Store, name string) (*metadata.BucketRecord, error) {
	b, err := store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, s3err.ErrNoSuchBucket
	}
	return b, nil
}
