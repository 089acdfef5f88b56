package engine

import (
	"context"
	"time"

	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
)

// checkDeletable decides whether a version may be permanently removed.
//
//   - A legal hold always blocks, regardless of bypass.
//   - COMPLIANCE retention with a future retain-until date always blocks.
//   - GOVERNANCE retention with a future retain-until date blocks unless
//     the caller holds governance bypass.
func checkDeletable(v *metadata.VersionRecord, bypassGovernance bool, now time.Time) error {
	if v.LegalHold {
		return s3err.ErrAccessDenied.WithMessage("Object is under legal hold and cannot be deleted")
	}
	if v.RetentionUntil.IsZero() || !v.RetentionUntil.After(now) {
		return nil
	}
	switch v.RetentionMode {
	case metadata.RetentionCompliance:
		return s3err.ErrAccessDenied.WithMessage("Object is under COMPLIANCE retention and cannot be deleted")
	case metadata.RetentionGovernance:
		if !bypassGovernance {
			return s3err.ErrAccessDenied.WithMessage("Object is under GOVERNANCE retention and cannot be deleted without bypass")
		}
	}
	return nil
}

// validateRetentionChange enforces the retention transition rules before a
// version's retention is replaced:
//
//   - COMPLIANCE can never weaken: the retain-until date may only move later
//     or stay equal, and the mode can never become GOVERNANCE.
//   - Weakening active GOVERNANCE retention (earlier date or mode change)
//     requires governance bypass.
func validateRetentionChange(existing *metadata.VersionRecord, newMode string, newUntil time.Time, bypassGovernance bool, now time.Time) error {
	if existing.RetentionMode == "" || !existing.RetentionUntil.After(now) {
		return nil
	}

	switch existing.RetentionMode {
	case metadata.RetentionCompliance:
		if newMode == metadata.RetentionGovernance {
			return s3err.ErrAccessDenied.WithMessage("COMPLIANCE retention cannot be downgraded to GOVERNANCE")
		}
		if newUntil.Before(existing.RetentionUntil) {
			return s3err.ErrAccessDenied.WithMessage("COMPLIANCE retention period cannot be shortened")
		}
	case metadata.RetentionGovernance:
		weakens := newUntil.Before(existing.RetentionUntil) || newMode != metadata.RetentionGovernance
		if weakens && !bypassGovernance {
			return s3err.ErrAccessDenied.WithMessage("Governance retention is active and cannot be weakened without bypass")
		}
	}
	return nil
}

// RetentionInput carries a PutObjectRetention request.
type RetentionInput struct {
	Bucket           string
	Key              string
	VersionID        string
	Mode             string
	RetainUntil      time.Time
	BypassGovernance bool
}

// GetObjectRetention returns the retention mode and retain-until date of a
// version (the current version when VersionID is empty).
func (e *Engine) GetObjectRetention(ctx context.Context, bucket, key, versionID string) (mode string, until time.Time, err error) {
	v, err := e.lockableVersion(ctx, e.meta, bucket, key, versionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if v.RetentionMode == "" {
		return "", time.Time{}, s3err.ErrNoSuchObjectLockConfiguration
	}
	return v.RetentionMode, v.RetentionUntil, nil
}

// PutObjectRetention sets or replaces a version's retention, subject to the
// transition rules above.
func (e *Engine) PutObjectRetention(ctx context.Context, in *RetentionInput) error {
	if in.Mode != metadata.RetentionGovernance && in.Mode != metadata.RetentionCompliance {
		return s3err.ErrMalformedXML
	}
	if in.RetainUntil.IsZero() || !in.RetainUntil.After(e.now()) {
		return s3err.ErrInvalidRetentionPeriod.WithMessage("The retain until date must be in the future")
	}

	return e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		v, err := e.lockableVersion(ctx, tx, in.Bucket, in.Key, in.VersionID)
		if err != nil {
			return err
		}
		if err := validateRetentionChange(v, in.Mode, in.RetainUntil, in.BypassGovernance, e.now()); err != nil {
			return err
		}
		v.RetentionMode = in.Mode
		v.RetentionUntil = in.RetainUntil
		return tx.PutVersion(ctx, v)
	})
}

// GetObjectLegalHold returns whether a version is under legal hold.
func (e *Engine) GetObjectLegalHold(ctx context.Context, bucket, key, versionID string) (bool, error) {
	v, err := e.lockableVersion(ctx, e.meta, bucket, key, versionID)
	if err != nil {
		return false, err
	}
	return v.LegalHold, nil
}

// PutObjectLegalHold sets or clears a version's legal hold flag. The flag is
// independent of retention: clearing it does not require bypass, but while
// set it blocks deletion unconditionally.
func (e *Engine) PutObjectLegalHold(ctx context.Context, bucket, key, versionID string, hold bool) error {
	return e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		v, err := e.lockableVersion(ctx, tx, bucket, key, versionID)
		if err != nil {
			return err
		}
		v.LegalHold = hold
		return tx.PutVersion(ctx, v)
	})
}

// lockableVersion resolves the version targeted by a retention or legal-hold
// operation: the bucket must exist with Object Lock enabled, the version
// must exist, and it must not be a delete marker.
func (e *Engine) lockableVersion(ctx context.Context, store metadata.Store, bucket, key, versionID string) (*metadata.VersionRecord, error) {
	b, err := store.GetBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, s3err.ErrNoSuchBucket
	}
	if !b.ObjectLockEnabled {
		return nil, s3err.ErrInvalidRequest.WithMessage("Bucket is missing Object Lock Configuration")
	}

	var v *metadata.VersionRecord
	if versionID == "" {
		v, err = store.GetCurrentVersion(ctx, bucket, key)
	} else {
		v, err = store.GetVersion(ctx, bucket, key, versionID)
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		if versionID == "" {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, s3err.ErrNoSuchVersion
	}
	if v.DeleteMarker {
		return nil, s3err.ErrMethodNotAllowed
	}
	return v, nil
}
