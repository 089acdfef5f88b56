package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements the Store interface entirely in memory. It is used
// in tests and for throwaway instances; nothing survives process exit.
type MemoryStore struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	buckets map[string]*BucketRecord
	// versions maps bucket -> key -> versionID -> record.
	versions map[string]map[string]map[string]*VersionRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:  make(map[string]*BucketRecord),
		versions: make(map[string]map[string]map[string]*VersionRecord),
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// copyBucketRecord returns a copy that shares nothing with the original,
// so callers can mutate what they get back without touching store state.
func copyBucketRecord(b *BucketRecord) *BucketRecord {
	cp := *b
	if b.DefaultRetention != nil {
		dr := *b.DefaultRetention
		cp.DefaultRetention = &dr
	}
	return &cp
}

// copyVersionRecord returns a copy that shares nothing with the original.
func copyVersionRecord(v *VersionRecord) *VersionRecord {
	cp := *v
	if v.UserMetadata != nil {
		cp.UserMetadata = make(map[string]string, len(v.UserMetadata))
		for k, val := range v.UserMetadata {
			cp.UserMetadata[k] = val
		}
	}
	return &cp
}

// Ping always succeeds for the memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// ---- Bucket operations ----

// CreateBucket creates a new bucket record.
func (s *MemoryStore) CreateBucket(ctx context.Context, bucket *BucketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buckets[bucket.Name]; exists {
		return fmt.Errorf("bucket already exists: %s", bucket.Name)
	}
	s.buckets[bucket.Name] = copyBucketRecord(bucket)
	s.versions[bucket.Name] = make(map[string]map[string]*VersionRecord)
	return nil
}

// GetBucket retrieves bucket metadata by name, or nil if absent.
func (s *MemoryStore) GetBucket(ctx context.Context, name string) (*BucketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[name]
	if !ok {
		return nil, nil
	}
	return copyBucketRecord(b), nil
}

// PutBucket replaces the record for an existing bucket.
func (s *MemoryStore) PutBucket(ctx context.Context, bucket *BucketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buckets[bucket.Name]; !exists {
		return fmt.Errorf("bucket not found: %s", bucket.Name)
	}
	s.buckets[bucket.Name] = copyBucketRecord(bucket)
	return nil
}

// DeleteBucket removes the named bucket and its chains.
func (s *MemoryStore) DeleteBucket(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buckets[name]; !exists {
		return fmt.Errorf("bucket not found: %s", name)
	}
	delete(s.buckets, name)
	delete(s.versions, name)
	return nil
}

// ListBuckets returns all bucket records ordered by name.
func (s *MemoryStore) ListBuckets(ctx context.Context) ([]BucketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make([]BucketRecord, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, *copyBucketRecord(b))
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

// ---- Version chain operations ----

// GetCurrentVersion returns the chain record with IsLatest set, or nil.
func (s *MemoryStore) GetCurrentVersion(ctx context.Context, bucket, key string) (*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.chain(bucket, key) {
		if v.IsLatest {
			return copyVersionRecord(v), nil
		}
	}
	return nil, nil
}

// GetVersion returns the exact record for (bucket, key, versionID), or nil.
func (s *MemoryStore) GetVersion(ctx context.Context, bucket, key, versionID string) (*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.chain(bucket, key)[versionID]
	if !ok {
		return nil, nil
	}
	return copyVersionRecord(v), nil
}

// PutVersion creates or replaces the record keyed by (bucket, key, versionID).
func (s *MemoryStore) PutVersion(ctx context.Context, v *VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.versions[v.Bucket]
	if !ok {
		return fmt.Errorf("bucket not found: %s", v.Bucket)
	}
	chain, ok := keys[v.Key]
	if !ok {
		chain = make(map[string]*VersionRecord)
		keys[v.Key] = chain
	}
	cp := copyVersionRecord(v)
	if cp.ContentType == "" {
		cp.ContentType = "application/octet-stream"
	}
	if cp.StorageClass == "" {
		cp.StorageClass = "STANDARD"
	}
	chain[v.VersionID] = cp
	return nil
}

// DeleteVersion removes the exact record for (bucket, key, versionID).
func (s *MemoryStore) DeleteVersion(ctx context.Context, bucket, key, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keys, ok := s.versions[bucket]; ok {
		if chain, ok := keys[key]; ok {
			delete(chain, versionID)
			if len(chain) == 0 {
				delete(keys, key)
			}
		}
	}
	return nil
}

// DemoteCurrent clears IsLatest on every record of the (bucket, key) chain.
func (s *MemoryStore) DemoteCurrent(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.chain(bucket, key) {
		v.IsLatest = false
	}
	return nil
}

// NewestVersion returns the chain record with the greatest last-modified
// time (ties broken by version ID), or nil if the chain is empty.
func (s *MemoryStore) NewestVersion(ctx context.Context, bucket, key string) (*VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *VersionRecord
	for _, v := range s.chain(bucket, key) {
		if newest == nil || chainLess(newest, v) {
			newest = v
		}
	}
	if newest == nil {
		return nil, nil
	}
	return copyVersionRecord(newest), nil
}

// CountVersions returns the number of records stored in the bucket.
func (s *MemoryStore) CountVersions(ctx context.Context, bucket string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, chain := range s.versions[bucket] {
		count += int64(len(chain))
	}
	return count, nil
}

// ListVersions returns one page of the bucket's version records.
func (s *MemoryStore) ListVersions(ctx context.Context, bucket string, opts ListVersionsOptions) (*ListVersionsResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	var all []VersionRecord
	for key, chain := range s.versions[bucket] {
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		for _, v := range chain {
			all = append(all, *copyVersionRecord(v))
		}
	}

	// Key ascending, then newest first within a key.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Key != all[j].Key {
			return all[i].Key < all[j].Key
		}
		return chainLess(&all[j], &all[i])
	})

	// Apply markers: skip everything up to and including the marker position.
	if opts.KeyMarker != "" {
		idx := 0
		for idx < len(all) && all[idx].Key < opts.KeyMarker {
			idx++
		}
		if opts.VersionIDMarker == "" {
			for idx < len(all) && all[idx].Key == opts.KeyMarker {
				idx++
			}
		} else {
			for idx < len(all) && all[idx].Key == opts.KeyMarker {
				id := all[idx].VersionID
				idx++
				if id == opts.VersionIDMarker {
					break
				}
			}
		}
		all = all[idx:]
	}

	isTruncated := len(all) > maxKeys
	if isTruncated {
		all = all[:maxKeys]
	}

	result := &ListVersionsResult{
		Versions:    all,
		IsTruncated: isTruncated,
	}
	if isTruncated && len(all) > 0 {
		last := all[len(all)-1]
		result.NextKeyMarker = last.Key
		result.NextVersionIDMarker = last.VersionID
	}
	return result, nil
}

// RunAtomic executes fn with all-or-nothing semantics: the store state is
// snapshotted first and restored if fn fails. Units serialize with each
// other on a dedicated mutex, mirroring SQLite's single-writer behavior.
// fn receives a transaction view whose own RunAtomic joins this unit.
func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.clone()
	if err := fn(memoryTxStore{s}); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

// memoryTxStore is the view of a MemoryStore handed to a RunAtomic unit.
// Nested RunAtomic calls run in place instead of re-entering the unit lock.
type memoryTxStore struct {
	*MemoryStore
}

func (t memoryTxStore) RunAtomic(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t)
}

// ---- Helpers ----

// chain returns the live record map for (bucket, key). Callers must hold mu.
func (s *MemoryStore) chain(bucket, key string) map[string]*VersionRecord {
	if keys, ok := s.versions[bucket]; ok {
		return keys[key]
	}
	return nil
}

// chainLess orders a before b when a is older: smaller last-modified, ties
// broken by version ID.
func chainLess(a, b *VersionRecord) bool {
	at := a.LastModified.Truncate(time.Millisecond)
	bt := b.LastModified.Truncate(time.Millisecond)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.VersionID < b.VersionID
}

// clone deep-copies the store state.
func (s *MemoryStore) clone() *MemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := NewMemoryStore()
	for name, b := range s.buckets {
		cp.buckets[name] = copyBucketRecord(b)
	}
	for name, keys := range s.versions {
		cpKeys := make(map[string]map[string]*VersionRecord, len(keys))
		for key, chain := range keys {
			cpChain := make(map[string]*VersionRecord, len(chain))
			for id, v := range chain {
				cpChain[id] = copyVersionRecord(v)
			}
			cpKeys[key] = cpChain
		}
		cp.versions[name] = cpKeys
	}
	return cp
}

// restore replaces the store state with a previously taken snapshot.
func (s *MemoryStore) restore(snapshot *MemoryStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = snapshot.buckets
	s.versions = snapshot.versions
}
