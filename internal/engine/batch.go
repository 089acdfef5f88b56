package engine

import (
	"context"

	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
)

// ObjectIdentifier names one object (and optionally one exact version) in a
// multi-object batch.
type ObjectIdentifier struct {
	Key       string
	VersionID string
}

// DeletedObject is one successfully deleted entry of a DeleteObjects batch.
type DeletedObject struct {
	Key                   string
	VersionID             string
	DeleteMarker          bool
	DeleteMarkerVersionID string
}

// DeleteError is one failed entry of a DeleteObjects batch.
type DeleteError struct {
	Key       string
	VersionID string
	Code      string
	Message   string
}

// DeleteObjectsResult holds the parallel success and failure lists of a
// best-effort batch delete.
type DeleteObjectsResult struct {
	Deleted []DeletedObject
	Errors  []DeleteError
}

// DeleteObjects deletes up to the batch ceiling of objects with per-item,
// best-effort semantics: each delete runs in its own atomic unit, a failed
// item never rolls back its siblings, and both outcomes are collected. This
// is S3's native multi-object delete discipline.
func (e *Engine) DeleteObjects(ctx context.Context, bucket string, objects []ObjectIdentifier, bypassGovernance bool) (*DeleteObjectsResult, error) {
	if len(objects) == 0 {
		return nil, s3err.ErrMalformedXML
	}
	if len(objects) > e.maxBatchItems {
		return nil, s3err.ErrInvalidArgument.WithMessage("The number of objects in the batch exceeds the limit")
	}
	if _, err := resolveBucket(ctx, e.meta, bucket); err != nil {
		return nil, err
	}

	result := &DeleteObjectsResult{}
	for _, obj := range objects {
		out, err := e.DeleteObject(ctx, &DeleteObjectInput{
			Bucket:           bucket,
			Key:              obj.Key,
			VersionID:        obj.VersionID,
			BypassGovernance: bypassGovernance,
		})
		if err != nil {
			code, message := "InternalError", "internal error"
			if s3e, ok := err.(*s3err.S3Error); ok {
				code, message = s3e.Code, s3e.Message
			}
			result.Errors = append(result.Errors, DeleteError{
				Key:       obj.Key,
				VersionID: obj.VersionID,
				Code:      code,
				Message:   message,
			})
			continue
		}

		deleted := DeletedObject{Key: obj.Key, VersionID: obj.VersionID}
		if out.DeleteMarker {
			deleted.DeleteMarker = true
			deleted.DeleteMarkerVersionID = out.VersionID
		}
		result.Deleted = append(result.Deleted, deleted)
	}
	return result, nil
}

// BatchOp is one mutation of an all-or-nothing batch. Exactly one field
// must be set.
type BatchOp struct {
	Put    *PutObjectInput
	Delete *DeleteObjectInput
	Copy   *CopyObjectInput
}

// ApplyBatch runs an ordered list of mutations as a single all-or-nothing
// unit: if any mutation fails, no metadata change of the batch is visible.
// This is the discipline of explicitly transactional multi-put/copy
// helpers, in contrast to DeleteObjects' per-item best effort.
//
// Blob bytes written by a failed batch are orphaned rather than rolled
// back; metadata remains the source of truth for what exists.
func (e *Engine) ApplyBatch(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return s3err.ErrInvalidArgument.WithMessage("The batch contains no operations")
	}
	if len(ops) > e.maxBatchItems {
		return s3err.ErrInvalidArgument.WithMessage("The number of operations in the batch exceeds the limit")
	}

	// Blob removals stage here until the unit commits; deleting bytes for
	// a batch that rolls back would corrupt surviving records.
	var staged []blobRef
	err := e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		staged = staged[:0]
		// Engine methods on the transaction-bound copy join this unit via
		// the store's nested RunAtomic.
		txe := e.withStore(tx)
		txe.pendingBlobDeletes = &staged
		for _, op := range ops {
			var err error
			switch {
			case op.Put != nil:
				_, err = txe.PutObject(ctx, op.Put)
			case op.Delete != nil:
				_, err = txe.DeleteObject(ctx, op.Delete)
			case op.Copy != nil:
				_, err = txe.CopyObject(ctx, op.Copy)
			default:
				err = s3err.ErrInvalidArgument.WithMessage("Empty batch operation")
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ref := range staged {
		if err := e.blobs.DeleteBlob(ctx, ref.bucket, ref.key, ref.versionID); err != nil {
			return err
		}
	}
	return nil
}
