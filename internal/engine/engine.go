// Package engine implements ShelfStore's versioned object storage engine:
// the rules that turn writes and deletes into version chains under a
// bucket's versioning mode, conditional request evaluation, Object Lock
// enforcement, and atomic multi-object batches.
//
// The engine is deliberately narrow: it covers bucket CRUD, object
// CRUD+versioning, and retention/legal hold. Callers needing the rest of
// the S3 surface compose around it; unsupported operations surface an
// explicit NotImplemented error at the HTTP layer rather than a panic.
package engine

import (
	"context"
	"time"

	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/storage"
)

// Engine coordinates the version metadata store and the blob store. Every
// multi-step chain mutation runs inside the metadata store's RunAtomic unit
// so read-decide-write sequences commit as one transaction.
type Engine struct {
	meta  metadata.Store
	blobs storage.BlobStore

	region          string
	maxBatchItems   int
	maxListVersions int

	// now is replaceable in tests.
	now func() time.Time

	// pendingBlobDeletes, when non-nil, collects blob removals instead of
	// performing them, so an enclosing all-or-nothing batch can defer
	// them until its unit has committed.
	pendingBlobDeletes *[]blobRef
}

// blobRef addresses one version blob.
type blobRef struct {
	bucket, key, versionID string
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithRegion sets the region reported as the bucket location constraint.
func WithRegion(region string) Option {
	return func(e *Engine) { e.region = region }
}

// WithMaxBatchItems caps the item count of multi-object batches.
func WithMaxBatchItems(n int) Option {
	return func(e *Engine) { e.maxBatchItems = n }
}

// WithMaxListVersions caps the page size of ListVersions.
func WithMaxListVersions(n int) Option {
	return func(e *Engine) { e.maxListVersions = n }
}

// WithClock replaces the engine's time source. Used in tests to control
// retention expiry and last-modified ordering.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given metadata store and blob store.
func New(meta metadata.Store, blobs storage.BlobStore, opts ...Option) *Engine {
	e := &Engine{
		meta:            meta,
		blobs:           blobs,
		region:          "us-east-1",
		maxBatchItems:   1000,
		maxListVersions: 1000,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// withStore returns a copy of the engine bound to the given metadata store.
// Used to run engine operations against a transaction-bound store inside
// an atomic batch.
func (e *Engine) withStore(meta metadata.Store) *Engine {
	cp := *e
	cp.meta = meta
	return &cp
}

// Ping checks connectivity to both collaborators.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.meta.Ping(ctx); err != nil {
		return err
	}
	return e.blobs.HealthCheck(ctx)
}
