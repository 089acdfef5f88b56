package engine

import (
	"context"
	"regexp"
	"strings"

	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
)

// bucketNameRe matches valid S3 bucket names: lowercase letters, digits,
// dots and hyphens, starting and ending with a letter or digit.
var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// validBucketName reports whether name is an acceptable bucket name.
func validBucketName(name string) bool {
	if !bucketNameRe.MatchString(name) {
		return false
	}
	// No consecutive dots, no IP-address-looking names.
	if strings.Contains(name, "..") {
		return false
	}
	return true
}

// CreateBucketInput carries a CreateBucket request.
type CreateBucketInput struct {
	Name              string
	Region            string
	OwnerID           string
	OwnerDisplay      string
	ObjectLockEnabled bool
}

// CreateBucket creates a new bucket. Enabling Object Lock at creation also
// enables versioning, since locked versions only make sense in a versioned
// chain.
func (e *Engine) CreateBucket(ctx context.Context, in *CreateBucketInput) (*metadata.BucketRecord, error) {
	if !validBucketName(in.Name) {
		return nil, s3err.ErrInvalidBucketName
	}

	region := in.Region
	if region == "" {
		region = e.region
	}

	record := &metadata.BucketRecord{
		Name:              in.Name,
		Region:            region,
		OwnerID:           in.OwnerID,
		OwnerDisplay:      in.OwnerDisplay,
		ObjectLockEnabled: in.ObjectLockEnabled,
		CreatedAt:         e.now(),
	}
	if in.ObjectLockEnabled {
		record.VersioningMode = metadata.VersioningEnabled
	}

	err := e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		existing, err := tx.GetBucket(ctx, in.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.OwnerID == in.OwnerID {
				return s3err.ErrBucketAlreadyOwnedByYou
			}
			return s3err.ErrBucketAlreadyExists
		}
		return tx.CreateBucket(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	if err := e.blobs.CreateBucket(ctx, in.Name); err != nil {
		return nil, err
	}
	return record, nil
}

// HeadBucket returns the bucket record, or NoSuchBucket.
func (e *Engine) HeadBucket(ctx context.Context, name string) (*metadata.BucketRecord, error) {
	b, err := e.meta.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, s3err.ErrNoSuchBucket
	}
	return b, nil
}

// ListBuckets returns all buckets ordered by name.
func (e *Engine) ListBuckets(ctx context.Context) ([]metadata.BucketRecord, error) {
	return e.meta.ListBuckets(ctx)
}

// DeleteBucket removes an empty bucket. A bucket holding any version record
// or delete marker is not empty.
func (e *Engine) DeleteBucket(ctx context.Context, name string) error {
	err := e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		b, err := tx.GetBucket(ctx, name)
		if err != nil {
			return err
		}
		if b == nil {
			return s3err.ErrNoSuchBucket
		}
		count, err := tx.CountVersions(ctx, name)
		if err != nil {
			return err
		}
		if count > 0 {
			return s3err.ErrBucketNotEmpty
		}
		return tx.DeleteBucket(ctx, name)
	})
	if err != nil {
		return err
	}
	return e.blobs.DeleteBucket(ctx, name)
}

// GetBucketVersioning returns the bucket's versioning mode and MFA-delete
// flag. The flag is reported as stored; it is never enforced.
func (e *Engine) GetBucketVersioning(ctx context.Context, name string) (mode string, mfaDelete bool, err error) {
	b, err := e.HeadBucket(ctx, name)
	if err != nil {
		return "", false, err
	}
	return b.VersioningMode, b.MFADelete, nil
}

// PutBucketVersioning sets the bucket's versioning mode. Versioning can only
// be set to Enabled or Suspended; once enabled a bucket never returns to the
// unversioned state, and a bucket with Object Lock cannot be suspended.
func (e *Engine) PutBucketVersioning(ctx context.Context, name, mode string, mfaDelete bool) error {
	if mode != metadata.VersioningEnabled && mode != metadata.VersioningSuspended {
		return s3err.ErrMalformedXML
	}

	return e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		b, err := tx.GetBucket(ctx, name)
		if err != nil {
			return err
		}
		if b == nil {
			return s3err.ErrNoSuchBucket
		}
		if b.ObjectLockEnabled && mode != metadata.VersioningEnabled {
			return s3err.ErrInvalidBucketState.WithMessage(
				"An Object Lock configuration is present on this bucket, so the versioning state cannot be changed")
		}
		b.VersioningMode = mode
		b.MFADelete = mfaDelete
		return tx.PutBucket(ctx, b)
	})
}

// ObjectLockConfiguration is a bucket's Object Lock state: whether lock is
// enabled and the optional default retention rule for new versions.
type ObjectLockConfiguration struct {
	Enabled          bool
	DefaultRetention *metadata.DefaultRetention
}

// GetObjectLockConfiguration returns the bucket's Object Lock configuration.
func (e *Engine) GetObjectLockConfiguration(ctx context.Context, name string) (*ObjectLockConfiguration, error) {
	b, err := e.HeadBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	if !b.ObjectLockEnabled {
		return nil, s3err.ErrObjectLockConfigurationNotFound
	}
	return &ObjectLockConfiguration{
		Enabled:          true,
		DefaultRetention: b.DefaultRetention,
	}, nil
}

// PutObjectLockConfiguration enables Object Lock on a versioned bucket and
// sets its default retention rule. Lock cannot be disabled once enabled.
func (e *Engine) PutObjectLockConfiguration(ctx context.Context, name string, cfg *ObjectLockConfiguration) error {
	if cfg == nil || !cfg.Enabled {
		return s3err.ErrMalformedXML
	}
	if d := cfg.DefaultRetention; d != nil {
		if d.Mode != metadata.RetentionGovernance && d.Mode != metadata.RetentionCompliance {
			return s3err.ErrMalformedXML
		}
		// Exactly one of days/years, and it must be positive.
		if (d.Days > 0) == (d.Years > 0) || d.Days < 0 || d.Years < 0 {
			return s3err.ErrMalformedXML
		}
	}

	return e.meta.RunAtomic(ctx, func(tx metadata.Store) error {
		b, err := tx.GetBucket(ctx, name)
		if err != nil {
			return err
		}
		if b == nil {
			return s3err.ErrNoSuchBucket
		}
		if b.VersioningMode != metadata.VersioningEnabled {
			return s3err.ErrInvalidBucketState.WithMessage(
				"Versioning must be enabled on the bucket to apply an Object Lock configuration")
		}
		b.ObjectLockEnabled = true
		b.DefaultRetention = cfg.DefaultRetention
		return tx.PutBucket(ctx, b)
	})
}
