package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/shelfstore/shelfstore/internal/etag"
)

// MemoryBackend implements the BlobStore interface in memory. It is used in
// tests and for throwaway instances.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

// blobKey builds the map key for a version blob. The NUL separator cannot
// appear in bucket names or version IDs.
func blobKey(bucket, key, versionID string) string {
	return bucket + "\x00" + key + "\x00" + versionID
}

// PutBlob stores the version data in memory and returns its size and ETag.
func (b *MemoryBackend) PutBlob(ctx context.Context, bucket, key, versionID string, reader io.Reader) (int64, string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", fmt.Errorf("reading blob data: %w", err)
	}

	b.mu.Lock()
	b.blobs[blobKey(bucket, key, versionID)] = data
	b.mu.Unlock()

	return int64(len(data)), etag.FromBytes(data), nil
}

// GetBlob returns a reader over the stored version data.
func (b *MemoryBackend) GetBlob(ctx context.Context, bucket, key, versionID string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	data, ok := b.blobs[blobKey(bucket, key, versionID)]
	b.mu.RUnlock()

	if !ok {
		return nil, 0, fmt.Errorf("blob not found: %s/%s@%s", bucket, key, versionID)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// DeleteBlob removes the version data. Absent blobs are not an error.
func (b *MemoryBackend) DeleteBlob(ctx context.Context, bucket, key, versionID string) error {
	b.mu.Lock()
	delete(b.blobs, blobKey(bucket, key, versionID))
	b.mu.Unlock()
	return nil
}

// CopyBlob copies a version's bytes to a new address.
func (b *MemoryBackend) CopyBlob(ctx context.Context, srcBucket, srcKey, srcVersionID, dstBucket, dstKey, dstVersionID string) (int64, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.blobs[blobKey(srcBucket, srcKey, srcVersionID)]
	if !ok {
		return 0, "", fmt.Errorf("blob not found: %s/%s@%s", srcBucket, srcKey, srcVersionID)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blobs[blobKey(dstBucket, dstKey, dstVersionID)] = cp
	return int64(len(cp)), etag.FromBytes(cp), nil
}

// CreateBucket is a no-op for the memory backend.
func (b *MemoryBackend) CreateBucket(ctx context.Context, bucket string) error { return nil }

// DeleteBucket removes all blobs stored under the bucket.
func (b *MemoryBackend) DeleteBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := bucket + "\x00"
	for k := range b.blobs {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(b.blobs, k)
		}
	}
	return nil
}

// HealthCheck always succeeds for the memory backend.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error { return nil }
