package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shelfstore/shelfstore/internal/etag"
	"github.com/shelfstore/shelfstore/internal/uid"
)

// LocalBackend implements the BlobStore interface using the local
// filesystem. Version blobs are stored as files within a configurable root
// directory, organized by bucket and a hex-encoded key so arbitrary S3 keys
// (slashes, dots, control characters) map to safe path segments:
//
//	<root>/<bucket>/<hex(key)>/<versionID>
type LocalBackend struct {
	// RootDir is the base directory under which all blob data is stored.
	RootDir string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{RootDir: rootDir}, nil
}

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup as part of crash-only recovery. Any temp files left behind
// indicate incomplete writes from a previous crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// blobPath returns the full filesystem path for a version blob.
func (b *LocalBackend) blobPath(bucket, key, versionID string) string {
	return filepath.Join(b.RootDir, bucket, hex.EncodeToString([]byte(key)), versionID)
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// PutBlob writes version data to a file using the crash-only atomic write
// pattern: write to temp file, fsync, rename. Returns the number of bytes
// written and the quoted MD5 ETag.
func (b *LocalBackend) PutBlob(ctx context.Context, bucket, key, versionID string, reader io.Reader) (int64, string, error) {
	path := b.blobPath(bucket, key, versionID)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, "", fmt.Errorf("creating parent directories for %q/%q: %w", bucket, key, err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}

	// Hash while writing.
	h := etag.NewHasher()
	bytesWritten, err := io.Copy(tmpFile, h.Tee(reader))
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("writing blob data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename: temp -> final path.
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("renaming temp file to final path: %w", err)
	}

	return bytesWritten, h.Sum(), nil
}

// GetBlob opens the version blob for reading. The caller is responsible for
// closing the returned ReadCloser.
func (b *LocalBackend) GetBlob(ctx context.Context, bucket, key, versionID string) (io.ReadCloser, int64, error) {
	path := b.blobPath(bucket, key, versionID)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("blob not found: %s/%s@%s", bucket, key, versionID)
		}
		return nil, 0, fmt.Errorf("opening blob %q/%q@%q: %w", bucket, key, versionID, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("statting blob %q/%q@%q: %w", bucket, key, versionID, err)
	}

	return file, info.Size(), nil
}

// DeleteBlob removes the version blob. Absent blobs are not an error.
func (b *LocalBackend) DeleteBlob(ctx context.Context, bucket, key, versionID string) error {
	path := b.blobPath(bucket, key, versionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %q/%q@%q: %w", bucket, key, versionID, err)
	}
	// Prune the key directory if this was the last version.
	os.Remove(filepath.Dir(path))
	return nil
}

// CopyBlob copies a version's bytes to a new address via PutBlob, so the
// copy inherits the atomic write pattern and recomputes the ETag.
func (b *LocalBackend) CopyBlob(ctx context.Context, srcBucket, srcKey, srcVersionID, dstBucket, dstKey, dstVersionID string) (int64, string, error) {
	src, _, err := b.GetBlob(ctx, srcBucket, srcKey, srcVersionID)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()

	return b.PutBlob(ctx, dstBucket, dstKey, dstVersionID, src)
}

// CreateBucket creates the bucket's directory.
func (b *LocalBackend) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(b.RootDir, bucket), 0o755); err != nil {
		return fmt.Errorf("creating bucket directory %q: %w", bucket, err)
	}
	return nil
}

// DeleteBucket removes the bucket's directory tree.
func (b *LocalBackend) DeleteBucket(ctx context.Context, bucket string) error {
	if err := os.RemoveAll(filepath.Join(b.RootDir, bucket)); err != nil {
		return fmt.Errorf("deleting bucket directory %q: %w", bucket, err)
	}
	return nil
}

// HealthCheck verifies the root directory is accessible and writable.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(b.RootDir, ".tmp", "health-"+uid.New())
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}
