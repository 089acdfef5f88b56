// Package storage defines the interface and implementations for ShelfStore's
// object data layer. Blobs are addressed by (bucket, key, versionID) so every
// retained version keeps its bytes independently.
package storage

import (
	"context"
	"io"
)

// BlobStore reads and writes raw object data for individual versions.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// PutBlob writes the data from the reader at (bucket, key, versionID).
	// It returns the number of bytes written and the computed ETag (MD5
	// hex digest, quoted), or an error. The write is atomic: a crashed put
	// never leaves a partial blob at the final location.
	PutBlob(ctx context.Context, bucket, key, versionID string, reader io.Reader) (bytesWritten int64, etag string, err error)

	// GetBlob retrieves the version's data. The caller is responsible for
	// closing the returned ReadCloser. Returns the data stream and size.
	GetBlob(ctx context.Context, bucket, key, versionID string) (io.ReadCloser, int64, error)

	// DeleteBlob removes the version's data. Deleting an absent blob is
	// not an error; metadata is the source of truth for existence.
	DeleteBlob(ctx context.Context, bucket, key, versionID string) error

	// CopyBlob copies a version's bytes to a new (bucket, key, versionID)
	// address and returns the size and ETag of the copy.
	CopyBlob(ctx context.Context, srcBucket, srcKey, srcVersionID, dstBucket, dstKey, dstVersionID string) (int64, string, error)

	// CreateBucket creates the backing storage for a new bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// DeleteBucket removes the backing storage for a bucket.
	DeleteBucket(ctx context.Context, bucket string) error

	// HealthCheck verifies that the blob store is operational.
	HealthCheck(ctx context.Context) error
}
