// Package metadata defines the interface and implementations for ShelfStore's
// version metadata layer, which tracks buckets and per-key version chains
// (content versions and delete markers).
package metadata

import (
	"context"
	"io"
	"time"
)

// Versioning modes for a bucket. A bucket starts unversioned; once versioning
// has been enabled it can only move between Enabled and Suspended.
const (
	VersioningOff       = ""
	VersioningEnabled   = "Enabled"
	VersioningSuspended = "Suspended"
)

// NullVersionID is the sentinel version identifier for the unversioned slot
// written while a bucket's versioning is off or suspended. It names a slot,
// not a version: a chain holds at most one record with this ID, and writes
// to it overwrite in place.
const NullVersionID = "null"

// Retention modes for Object Lock.
const (
	RetentionGovernance = "GOVERNANCE"
	RetentionCompliance = "COMPLIANCE"
)

// DefaultRetention is a bucket's default Object Lock retention rule, applied
// to new versions when the writer does not set retention explicitly.
type DefaultRetention struct {
	Mode  string
	Days  int
	Years int
}

// BucketRecord represents the metadata for a single bucket.
type BucketRecord struct {
	Name              string
	Region            string
	OwnerID           string
	OwnerDisplay      string
	VersioningMode    string
	ObjectLockEnabled bool
	DefaultRetention  *DefaultRetention
	// MFADelete is stored and echoed by GetBucketVersioning but never
	// enforced; there is no MFA device to verify against locally.
	MFADelete bool
	CreatedAt time.Time
}

// VersionRecord represents one record in a version chain: either a content
// version or a delete marker, identified by (bucket, key, version ID).
type VersionRecord struct {
	Bucket       string
	Key          string
	VersionID    string
	IsLatest     bool
	DeleteMarker bool
	Size         int64
	ETag         string
	ContentType  string
	StorageClass string
	UserMetadata map[string]string
	LastModified time.Time

	// Object Lock state. RetentionUntil's zero value means no retention.
	RetentionMode  string
	RetentionUntil time.Time
	LegalHold      bool
}

// ListVersionsOptions specifies filtering and pagination options for listing
// version chains.
type ListVersionsOptions struct {
	Prefix          string
	KeyMarker       string
	VersionIDMarker string
	MaxKeys         int
}

// ListVersionsResult holds one page of version records, ordered by key
// ascending and last-modified descending within a key.
type ListVersionsResult struct {
	Versions            []VersionRecord
	IsTruncated         bool
	NextKeyMarker       string
	NextVersionIDMarker string
}

// Store is the persistence collaborator consumed by the versioning engine.
// Implementations must be safe for concurrent use; multi-step engine
// mutations are wrapped in RunAtomic so the read-decide-write sequence on a
// chain commits as one unit.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Bucket operations

	// CreateBucket creates a new bucket record. Returns an error if a
	// bucket with the same name already exists.
	CreateBucket(ctx context.Context, bucket *BucketRecord) error

	// GetBucket retrieves the named bucket, or nil if it does not exist.
	GetBucket(ctx context.Context, name string) (*BucketRecord, error)

	// PutBucket replaces the record for an existing bucket (versioning
	// mode, Object Lock configuration).
	PutBucket(ctx context.Context, bucket *BucketRecord) error

	// DeleteBucket removes the named bucket record. Emptiness is the
	// engine's concern; the store deletes unconditionally.
	DeleteBucket(ctx context.Context, name string) error

	// ListBuckets returns all bucket records ordered by name.
	ListBuckets(ctx context.Context) ([]BucketRecord, error)

	// Version chain operations

	// GetCurrentVersion returns the chain record with IsLatest set for
	// (bucket, key), or nil if the chain is empty.
	GetCurrentVersion(ctx context.Context, bucket, key string) (*VersionRecord, error)

	// GetVersion returns the exact record for (bucket, key, versionID),
	// or nil if absent.
	GetVersion(ctx context.Context, bucket, key, versionID string) (*VersionRecord, error)

	// PutVersion creates or replaces the record keyed by
	// (bucket, key, versionID).
	PutVersion(ctx context.Context, v *VersionRecord) error

	// DeleteVersion removes the exact record for (bucket, key, versionID).
	// Removing an absent record is not an error.
	DeleteVersion(ctx context.Context, bucket, key, versionID string) error

	// DemoteCurrent clears IsLatest on every record of the (bucket, key)
	// chain, making room for a new current record.
	DemoteCurrent(ctx context.Context, bucket, key string) error

	// NewestVersion returns the chain record with the greatest
	// last-modified time (ties broken by version ID), or nil if the chain
	// is empty. Used to promote a successor after the current record is
	// permanently removed.
	NewestVersion(ctx context.Context, bucket, key string) (*VersionRecord, error)

	// CountVersions returns the number of records (versions and delete
	// markers) stored in the bucket.
	CountVersions(ctx context.Context, bucket string) (int64, error)

	// ListVersions returns one page of the bucket's version records.
	ListVersions(ctx context.Context, bucket string, opts ListVersionsOptions) (*ListVersionsResult, error)

	// RunAtomic executes fn against a Store whose writes commit together
	// or not at all. The call is not reentrant across stores, but fn may
	// call RunAtomic on the store it receives; the nested call joins the
	// enclosing unit. Cancellation is honored before the unit starts;
	// once begun it runs to commit or rollback.
	RunAtomic(ctx context.Context, fn func(Store) error) error
}
