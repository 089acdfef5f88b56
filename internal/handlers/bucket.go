package handlers

import (
	"encoding/xml"
	"net/http"

	"github.com/shelfstore/shelfstore/internal/engine"
	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/xmlutil"
)

// BucketHandler contains handlers for bucket-level operations.
type BucketHandler struct {
	eng          *engine.Engine
	ownerID      string
	ownerDisplay string
	region       string
}

// NewBucketHandler creates a new BucketHandler over the given engine.
func NewBucketHandler(eng *engine.Engine, ownerID, ownerDisplay, region string) *BucketHandler {
	return &BucketHandler{
		eng:          eng,
		ownerID:      ownerID,
		ownerDisplay: ownerDisplay,
		region:       region,
	}
}

// ListBuckets handles GET / and returns a list of all buckets.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.eng.ListBuckets(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var xmlBuckets []xmlutil.Bucket
	for _, b := range buckets {
		xmlBuckets = append(xmlBuckets, xmlutil.Bucket{
			Name:         b.Name,
			CreationDate: xmlutil.FormatTimeS3(b.CreatedAt),
		})
	}

	result := &xmlutil.ListAllMyBucketsResult{
		Owner: xmlutil.Owner{
			ID:          h.ownerID,
			DisplayName: h.ownerDisplay,
		},
		Buckets: xmlBuckets,
	}

	xmlutil.RenderListBuckets(w, result)
}

// CreateBucket handles PUT /{bucket} and creates a new bucket with the
// specified name. The x-amz-bucket-object-lock-enabled header enables
// Object Lock (and with it versioning) at creation.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	bucketName := extractBucketName(r)

	// Determine region from request body (CreateBucketConfiguration) or config.
	region := h.region
	if r.ContentLength > 0 || r.Header.Get("Content-Length") != "" {
		body, err := readBody(r, 1<<20) // 1 MB max
		if err == nil && len(body) > 0 {
			region = parseCreateBucketRegion(body, h.region)
		}
	}

	lockEnabled := r.Header.Get("x-amz-bucket-object-lock-enabled") == "true"

	_, err := h.eng.CreateBucket(r.Context(), &engine.CreateBucketInput{
		Name:              bucketName,
		Region:            region,
		OwnerID:           h.ownerID,
		OwnerDisplay:      h.ownerDisplay,
		ObjectLockEnabled: lockEnabled,
	})
	if err != nil {
		// us-east-1 behavior: recreating your own bucket returns 200 OK.
		if err == s3err.ErrBucketAlreadyOwnedByYou {
			w.Header().Set("Location", "/"+bucketName)
			w.WriteHeader(http.StatusOK)
			return
		}
		writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Location", "/"+bucketName)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket} and removes the specified bucket.
// The bucket must hold no versions or delete markers.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.DeleteBucket(r.Context(), extractBucketName(r)); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HeadBucket handles HEAD /{bucket} and checks whether the specified bucket
// exists and is accessible.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := h.eng.HeadBucket(r.Context(), extractBucketName(r))
	if err != nil {
		writeEngineStatus(w, r, err)
		return
	}
	w.Header().Set("x-amz-bucket-region", bucket.Region)
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocation handles GET /{bucket}?location and returns the region
// constraint for the specified bucket.
func (h *BucketHandler) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	bucket, err := h.eng.HeadBucket(r.Context(), extractBucketName(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	// us-east-1 quirk: return empty LocationConstraint (effectively null).
	location := bucket.Region
	if location == "us-east-1" {
		location = ""
	}
	xmlutil.RenderLocationConstraint(w, location)
}

// GetBucketVersioning handles GET /{bucket}?versioning. A bucket that has
// never been versioned returns an empty configuration.
func (h *BucketHandler) GetBucketVersioning(w http.ResponseWriter, r *http.Request) {
	mode, mfaDelete, err := h.eng.GetBucketVersioning(r.Context(), extractBucketName(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	cfg := &xmlutil.VersioningConfiguration{Status: mode}
	if mode != "" {
		cfg.MFADelete = "Disabled"
		if mfaDelete {
			cfg.MFADelete = "Enabled"
		}
	}
	xmlutil.RenderVersioningConfiguration(w, cfg)
}

// PutBucketVersioning handles PUT /{bucket}?versioning and switches the
// bucket between Enabled and Suspended.
func (h *BucketHandler) PutBucketVersioning(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, 1<<20)
	if err != nil || len(body) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingRequestBodyError)
		return
	}

	var cfg xmlutil.VersioningConfiguration
	if err := xml.Unmarshal(body, &cfg); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	mfaDelete := cfg.MFADelete == "Enabled"
	if err := h.eng.PutBucketVersioning(r.Context(), extractBucketName(r), cfg.Status, mfaDelete); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetObjectLockConfiguration handles GET /{bucket}?object-lock.
func (h *BucketHandler) GetObjectLockConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.eng.GetObjectLockConfiguration(r.Context(), extractBucketName(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := &xmlutil.ObjectLockConfiguration{ObjectLockEnabled: "Enabled"}
	if d := cfg.DefaultRetention; d != nil {
		out.Rule = &xmlutil.ObjectLockRule{
			DefaultRetention: xmlutil.DefaultRetention{
				Mode:  d.Mode,
				Days:  d.Days,
				Years: d.Years,
			},
		}
	}
	xmlutil.RenderObjectLockConfiguration(w, out)
}

// PutObjectLockConfiguration handles PUT /{bucket}?object-lock and enables
// Object Lock with an optional default retention rule.
func (h *BucketHandler) PutObjectLockConfiguration(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, 1<<20)
	if err != nil || len(body) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingRequestBodyError)
		return
	}

	var in xmlutil.ObjectLockConfiguration
	if err := xml.Unmarshal(body, &in); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	cfg := &engine.ObjectLockConfiguration{
		Enabled: in.ObjectLockEnabled == "Enabled",
	}
	if in.Rule != nil {
		cfg.DefaultRetention = &metadata.DefaultRetention{
			Mode:  in.Rule.DefaultRetention.Mode,
			Days:  in.Rule.DefaultRetention.Days,
			Years: in.Rule.DefaultRetention.Years,
		}
	}

	if err := h.eng.PutObjectLockConfiguration(r.Context(), extractBucketName(r), cfg); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseCreateBucketRegion parses a CreateBucketConfiguration XML body to
// extract the LocationConstraint value. Returns the default region if
// parsing fails or no LocationConstraint is specified.
func parseCreateBucketRegion(body []byte, defaultRegion string) string {
	type createBucketConfig struct {
		XMLName            xml.Name `xml:"CreateBucketConfiguration"`
		LocationConstraint string   `xml:"LocationConstraint"`
	}
	var config createBucketConfig
	if err := xml.Unmarshal(body, &config); err != nil {
		return defaultRegion
	}
	if config.LocationConstraint == "" {
		return defaultRegion
	}
	return config.LocationConstraint
}
