package server

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shelfstore/shelfstore/internal/config"
	"github.com/shelfstore/shelfstore/internal/engine"
	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/storage"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	eng := engine.New(metadata.NewMemoryStore(), storage.NewMemoryBackend())
	return New(config.Default(), eng).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// headerValue looks up a response header regardless of key casing; the
// metadata middleware stores x-amz-meta-* keys fully lowercase.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	if vs := h[strings.ToLower(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/_health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want an ok status", rec.Body.String())
	}

	rec = do(t, h, http.MethodHead, "/_health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD status = %d, want 200", rec.Code)
	}
}

// Buckets may legitimately be named after infra endpoints; those paths must
// still reach the S3 dispatcher rather than the docs or health routes.
func TestInfraPathsDoNotShadowBuckets(t *testing.T) {
	h := newTestHandler(t)

	for _, name := range []string{"docs", "health", "metrics", "openapi", "schemas"} {
		rec := do(t, h, http.MethodPut, "/"+name, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("create bucket %q = %d: %s", name, rec.Code, rec.Body.String())
		}

		rec = do(t, h, http.MethodGet, "/"+name+"?versioning", "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET /%s?versioning = %d, want 200", name, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<VersioningConfiguration") {
			t.Errorf("GET /%s?versioning body = %.60q, want versioning XML", name, rec.Body.String())
		}

		rec = do(t, h, http.MethodGet, "/"+name+"?location", "", nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "LocationConstraint") {
			t.Errorf("GET /%s?location = %d: %.60q", name, rec.Code, rec.Body.String())
		}
	}

	// A bucket that does not exist under an infra-looking name is still an
	// explicit S3 error, never an empty success or an HTML page.
	rec := do(t, h, http.MethodGet, "/ghost?versioning", "", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "<Code>NoSuchBucket</Code>") {
		t.Errorf("missing bucket = %d: %.60q", rec.Code, rec.Body.String())
	}
}

func TestCommonHeaders(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/", "", nil)
	if rec.Header().Get("x-amz-request-id") == "" {
		t.Error("missing x-amz-request-id header")
	}
	if rec.Header().Get("Server") != "ShelfStore" {
		t.Errorf("Server = %q, want ShelfStore", rec.Header().Get("Server"))
	}
}

func TestBucketLifecycle(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPut, "/docs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	// Recreating your own bucket is 200 in the default region.
	rec = do(t, h, http.MethodPut, "/docs", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("recreate status = %d, want 200", rec.Code)
	}

	rec = do(t, h, http.MethodHead, "/docs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("head status = %d", rec.Code)
	}
	if rec.Header().Get("x-amz-bucket-region") != "us-east-1" {
		t.Errorf("x-amz-bucket-region = %q", rec.Header().Get("x-amz-bucket-region"))
	}

	rec = do(t, h, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Name>docs</Name>") {
		t.Errorf("listing missing the bucket: %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/docs?location", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "LocationConstraint") {
		t.Errorf("location = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/docs", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodHead, "/docs", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("head after delete = %d, want 404", rec.Code)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/docs", "", nil)

	rec := do(t, h, http.MethodPut, "/docs/a.txt", "hello", map[string]string{
		"Content-Type":     "text/plain",
		"x-amz-meta-Color": "blue",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("put response missing ETag")
	}
	if got := rec.Header().Get("x-amz-version-id"); got != "null" {
		t.Errorf("x-amz-version-id = %q, want null on an unversioned bucket", got)
	}

	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q, want hello", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if got := headerValue(rec.Header(), "x-amz-meta-color"); got != "blue" {
		t.Errorf("x-amz-meta-color = %q, want blue", got)
	}

	rec = do(t, h, http.MethodHead, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("head status = %d", rec.Code)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "5" {
		t.Errorf("Content-Length = %q, want 5", cl)
	}

	rec = do(t, h, http.MethodDelete, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Code>NoSuchKey</Code>") {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestVersionedObjectFlow(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/docs", "", nil)

	rec := do(t, h, http.MethodPut, "/docs?versioning",
		`<VersioningConfiguration><Status>Enabled</Status></VersioningConfiguration>`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable versioning = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/docs?versioning", "", nil)
	if !strings.Contains(rec.Body.String(), "<Status>Enabled</Status>") {
		t.Errorf("versioning config = %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodPut, "/docs/a.txt", "one", nil)
	v1 := rec.Header().Get("x-amz-version-id")
	rec = do(t, h, http.MethodPut, "/docs/a.txt", "two", nil)
	v2 := rec.Header().Get("x-amz-version-id")
	if v1 == "" || v2 == "" || v1 == v2 || v1 == "null" {
		t.Fatalf("version IDs = %q, %q, want two fresh IDs", v1, v2)
	}

	// Read the old version explicitly.
	rec = do(t, h, http.MethodGet, "/docs/a.txt?versionId="+v1, "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Errorf("old version = %d %q", rec.Code, rec.Body.String())
	}

	// Delete writes a marker.
	rec = do(t, h, http.MethodDelete, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec.Header().Get("x-amz-delete-marker") != "true" {
		t.Error("delete response missing x-amz-delete-marker")
	}
	marker := rec.Header().Get("x-amz-version-id")
	if marker == "" {
		t.Fatal("delete response missing the marker version ID")
	}

	// The key now reads as missing, flagged as a marker hit.
	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get through marker = %d, want 404", rec.Code)
	}
	if rec.Header().Get("x-amz-delete-marker") != "true" {
		t.Error("marker miss missing x-amz-delete-marker header")
	}

	// The listing shows both versions and the marker.
	rec = do(t, h, http.MethodGet, "/docs?versions", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list versions = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Count(body, "<Version>") != 2 {
		t.Errorf("want 2 Version entries: %s", body)
	}
	if strings.Count(body, "<DeleteMarker>") != 1 {
		t.Errorf("want 1 DeleteMarker entry: %s", body)
	}

	// Removing the marker restores the key.
	rec = do(t, h, http.MethodDelete, "/docs/a.txt?versionId="+marker, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("marker removal = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Errorf("restored read = %d %q, want 200 two", rec.Code, rec.Body.String())
	}
}

func TestRangeRequests(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/docs", "", nil)
	do(t, h, http.MethodPut, "/docs/a.txt", "hello world", nil)

	rec := do(t, h, http.MethodGet, "/docs/a.txt", "", map[string]string{"Range": "bytes=0-4"})
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q, want hello", rec.Body.String())
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 0-4/11" {
		t.Errorf("Content-Range = %q", cr)
	}

	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", map[string]string{"Range": "bytes=-5"})
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "world" {
		t.Errorf("suffix range = %d %q, want 206 world", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", map[string]string{"Range": "bytes=100-"})
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("out-of-range status = %d, want 416", rec.Code)
	}
}

func TestConditionalRequests(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/docs", "", nil)
	put := do(t, h, http.MethodPut, "/docs/a.txt", "hello", nil)
	tag := put.Header().Get("ETag")

	rec := do(t, h, http.MethodGet, "/docs/a.txt", "", map[string]string{"If-None-Match": tag})
	if rec.Code != http.StatusNotModified {
		t.Errorf("If-None-Match hit = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 carried a body: %q", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", map[string]string{"If-Match": `"0123456789abcdef0123456789abcdef"`})
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("If-Match miss = %d, want 412", rec.Code)
	}

	// Create-only put against an existing key.
	rec = do(t, h, http.MethodPut, "/docs/a.txt", "clobber", map[string]string{"If-None-Match": "*"})
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("create-only put = %d, want 412", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Code>PreconditionFailed</Code>") {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestCopyObjectEndpoint(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/src", "", nil)
	do(t, h, http.MethodPut, "/dst", "", nil)
	put := do(t, h, http.MethodPut, "/src/a.txt", "copy me", nil)

	rec := do(t, h, http.MethodPut, "/dst/b.txt", "", map[string]string{
		"X-Amz-Copy-Source": "/src/a.txt",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("copy status = %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		ETag string `xml:"ETag"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding copy result: %v", err)
	}
	if result.ETag != put.Header().Get("ETag") {
		t.Errorf("copy ETag = %q, want source ETag %q", result.ETag, put.Header().Get("ETag"))
	}

	rec = do(t, h, http.MethodGet, "/dst/b.txt", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "copy me" {
		t.Errorf("copied object = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDeleteObjectsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/docs", "", nil)
	do(t, h, http.MethodPut, "/docs/a.txt", "one", nil)
	do(t, h, http.MethodPut, "/docs/b.txt", "two", nil)

	body := `<Delete><Object><Key>a.txt</Key></Object><Object><Key>b.txt</Key></Object></Delete>`
	rec := do(t, h, http.MethodPost, "/docs?delete", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Count(rec.Body.String(), "<Deleted>") != 2 {
		t.Errorf("want 2 Deleted entries: %s", rec.Body.String())
	}

	// Quiet mode omits the success list.
	do(t, h, http.MethodPut, "/docs/c.txt", "three", nil)
	body = `<Delete><Quiet>true</Quiet><Object><Key>c.txt</Key></Object></Delete>`
	rec = do(t, h, http.MethodPost, "/docs?delete", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quiet status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<Deleted>") {
		t.Errorf("quiet response listed successes: %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/docs/a.txt", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("a.txt survived the batch: %d", rec.Code)
	}
}

func TestObjectLockEndpoints(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPut, "/vault", "", map[string]string{
		"x-amz-bucket-object-lock-enabled": "true",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create lock bucket = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/vault?object-lock", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<ObjectLockEnabled>Enabled</ObjectLockEnabled>") {
		t.Errorf("lock config = %d: %s", rec.Code, rec.Body.String())
	}

	// Set a default retention rule.
	body := `<ObjectLockConfiguration><ObjectLockEnabled>Enabled</ObjectLockEnabled>` +
		`<Rule><DefaultRetention><Mode>GOVERNANCE</Mode><Days>30</Days></DefaultRetention></Rule>` +
		`</ObjectLockConfiguration>`
	rec = do(t, h, http.MethodPut, "/vault?object-lock", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put lock config = %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/vault?object-lock", "", nil)
	if !strings.Contains(rec.Body.String(), "<Days>30</Days>") {
		t.Errorf("default retention missing: %s", rec.Body.String())
	}

	// A plain bucket has no lock configuration.
	do(t, h, http.MethodPut, "/docs", "", nil)
	rec = do(t, h, http.MethodGet, "/docs?object-lock", "", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "ObjectLockConfigurationNotFoundError") {
		t.Errorf("plain bucket lock config = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRetentionAndLegalHoldEndpoints(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/vault", "", map[string]string{
		"x-amz-bucket-object-lock-enabled": "true",
	})
	put := do(t, h, http.MethodPut, "/vault/a.txt", "held", nil)
	version := put.Header().Get("x-amz-version-id")

	body := `<Retention><Mode>GOVERNANCE</Mode><RetainUntilDate>2030-01-01T00:00:00.000Z</RetainUntilDate></Retention>`
	rec := do(t, h, http.MethodPut, "/vault/a.txt?retention&versionId="+version, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put retention = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/vault/a.txt?retention&versionId="+version, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<Mode>GOVERNANCE</Mode>") {
		t.Errorf("get retention = %d: %s", rec.Code, rec.Body.String())
	}

	// The retained version refuses permanent deletion.
	rec = do(t, h, http.MethodDelete, "/vault/a.txt?versionId="+version, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("retained delete = %d, want 403", rec.Code)
	}

	// Legal hold round trip.
	rec = do(t, h, http.MethodPut, "/vault/a.txt?legal-hold&versionId="+version,
		`<LegalHold><Status>ON</Status></LegalHold>`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put legal hold = %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/vault/a.txt?legal-hold&versionId="+version, "", nil)
	if !strings.Contains(rec.Body.String(), "<Status>ON</Status>") {
		t.Errorf("legal hold = %s", rec.Body.String())
	}

	// Bypass does not beat a legal hold.
	rec = do(t, h, http.MethodDelete, "/vault/a.txt?versionId="+version, "", map[string]string{
		"x-amz-bypass-governance-retention": "true",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("held delete with bypass = %d, want 403", rec.Code)
	}
}

func TestErrorResponseShape(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/ghost/key", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "xml") {
		t.Errorf("Content-Type = %q, want XML", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Error>") || !strings.Contains(body, "<Code>NoSuchBucket</Code>") {
		t.Errorf("error body = %s", body)
	}
	if !strings.Contains(body, "<RequestId>") {
		t.Errorf("error body missing RequestId: %s", body)
	}
}

func TestNotImplementedSurfaces(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/docs", "", nil)

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/docs?acl"},
		{http.MethodGet, "/docs?lifecycle"},
		{http.MethodGet, "/docs?list-type=2"},
		{http.MethodPut, "/docs/a.txt?tagging"},
		{http.MethodPost, "/docs/a.txt"},
	} {
		rec := do(t, h, tc.method, tc.target, "", nil)
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("%s %s = %d, want 501", tc.method, tc.target, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<Code>NotImplemented</Code>") {
			t.Errorf("%s %s body = %s", tc.method, tc.target, rec.Body.String())
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/_metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path   string
		bucket string
		key    string
	}{
		{"/", "", ""},
		{"/docs", "docs", ""},
		{"/docs/a.txt", "docs", "a.txt"},
		{"/docs/nested/path/key", "docs", "nested/path/key"},
	}
	for _, tt := range tests {
		bucket, key := parsePath(tt.path)
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("parsePath(%q) = %q, %q, want %q, %q", tt.path, bucket, key, tt.bucket, tt.key)
		}
	}
}
