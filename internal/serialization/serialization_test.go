package serialization

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shelfstore/shelfstore/internal/metadata"
)

// newSeededDB creates a SQLite database with one bucket and two version
// records and returns its path.
func newSeededDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "seed.db")
	store, err := metadata.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	err = store.CreateBucket(ctx, &metadata.BucketRecord{
		Name:              "vault",
		Region:            "us-east-1",
		OwnerID:           "owner",
		VersioningMode:    metadata.VersioningEnabled,
		ObjectLockEnabled: true,
		CreatedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	records := []*metadata.VersionRecord{
		{
			Bucket: "vault", Key: "a.txt", VersionID: "v1",
			Size: 3, ETag: `"abc"`, ContentType: "text/plain",
			UserMetadata: map[string]string{"color": "blue"},
			LastModified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			Bucket: "vault", Key: "a.txt", VersionID: "v2",
			IsLatest: true, DeleteMarker: true, LegalHold: true,
			LastModified: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
		},
	}
	for _, rec := range records {
		if err := store.PutVersion(ctx, rec); err != nil {
			t.Fatalf("PutVersion %s: %v", rec.VersionID, err)
		}
	}
	return dbPath
}

func TestExportShape(t *testing.T) {
	out, err := ExportMetadata(newSeededDB(t), nil)
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	envelope, ok := data["shelfstore_export"].(map[string]any)
	if !ok {
		t.Fatal("export missing the shelfstore_export envelope")
	}
	if v, _ := envelope["version"].(float64); int(v) != ExportVersion {
		t.Errorf("envelope version = %v, want %d", envelope["version"], ExportVersion)
	}

	buckets, ok := data["buckets"].([]any)
	if !ok || len(buckets) != 1 {
		t.Fatalf("buckets = %v, want one row", data["buckets"])
	}
	row := buckets[0].(map[string]any)
	if row["name"] != "vault" {
		t.Errorf("bucket name = %v, want vault", row["name"])
	}
	// Integer booleans are expanded to JSON booleans.
	if row["object_lock_enabled"] != true {
		t.Errorf("object_lock_enabled = %v (%T), want true", row["object_lock_enabled"], row["object_lock_enabled"])
	}

	versions, ok := data["versions"].([]any)
	if !ok || len(versions) != 2 {
		t.Fatalf("versions = %v, want two rows", data["versions"])
	}
	// Chain order: newest first within the key.
	first := versions[0].(map[string]any)
	if first["version_id"] != "v2" || first["delete_marker"] != true {
		t.Errorf("first row = %v, want the v2 marker", first)
	}
	// JSON-string columns are expanded to objects.
	second := versions[1].(map[string]any)
	meta, ok := second["user_metadata"].(map[string]any)
	if !ok || meta["color"] != "blue" {
		t.Errorf("user_metadata = %v, want expanded object", second["user_metadata"])
	}
}

func TestExportDeterministic(t *testing.T) {
	dbPath := newSeededDB(t)

	first, err := ExportMetadata(dbPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}
	second, err := ExportMetadata(dbPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}
	if first != second {
		t.Error("repeated exports of the same database differ")
	}
}

func TestExportSelectedTables(t *testing.T) {
	out, err := ExportMetadata(newSeededDB(t), &ExportOptions{Tables: []string{"buckets"}})
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}
	if strings.Contains(out, `"versions"`) {
		t.Error("versions table exported despite table filter")
	}
	if !strings.Contains(out, `"buckets"`) {
		t.Error("buckets table missing from export")
	}
}

func TestImportRoundTrip(t *testing.T) {
	out, err := ExportMetadata(newSeededDB(t), nil)
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}

	dstPath := filepath.Join(t.TempDir(), "dst.db")
	// Initialize the schema on the destination.
	dst, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	dst.Close()

	result, err := ImportMetadata(dstPath, out, nil)
	if err != nil {
		t.Fatalf("ImportMetadata: %v", err)
	}
	if result.Counts["buckets"] != 1 || result.Counts["versions"] != 2 {
		t.Errorf("Counts = %v, want buckets:1 versions:2", result.Counts)
	}

	// The imported store answers queries like the original.
	store, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("reopening destination: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	b, err := store.GetBucket(ctx, "vault")
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if b == nil || !b.ObjectLockEnabled {
		t.Fatalf("imported bucket = %+v", b)
	}

	v, err := store.GetVersion(ctx, "vault", "a.txt", "v1")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v == nil || v.UserMetadata["color"] != "blue" || v.ETag != `"abc"` {
		t.Fatalf("imported version = %+v", v)
	}

	current, err := store.GetCurrentVersion(ctx, "vault", "a.txt")
	if err != nil {
		t.Fatalf("GetCurrentVersion: %v", err)
	}
	if current == nil || !current.DeleteMarker {
		t.Errorf("current = %+v, want the v2 marker", current)
	}
}

func TestImportMergeSkipsExisting(t *testing.T) {
	srcPath := newSeededDB(t)
	out, err := ExportMetadata(srcPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}

	// Importing into the source without Replace skips every existing row.
	result, err := ImportMetadata(srcPath, out, nil)
	if err != nil {
		t.Fatalf("ImportMetadata: %v", err)
	}
	if result.Counts["buckets"] != 0 || result.Counts["versions"] != 0 {
		t.Errorf("Counts = %v, want all zero on merge into self", result.Counts)
	}
	if result.Skipped["buckets"] != 1 || result.Skipped["versions"] != 2 {
		t.Errorf("Skipped = %v, want buckets:1 versions:2", result.Skipped)
	}
}

func TestImportReplace(t *testing.T) {
	srcPath := newSeededDB(t)
	out, err := ExportMetadata(srcPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}

	// Add an extra row, then replace-import the original snapshot.
	store, err := metadata.NewSQLiteStore(srcPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	err = store.PutVersion(context.Background(), &metadata.VersionRecord{
		Bucket: "vault", Key: "extra", VersionID: "x1",
		LastModified: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	store.Close()
	if err != nil {
		t.Fatalf("PutVersion: %v", err)
	}

	result, err := ImportMetadata(srcPath, out, &ImportOptions{Replace: true})
	if err != nil {
		t.Fatalf("ImportMetadata: %v", err)
	}
	if result.Counts["versions"] != 2 {
		t.Errorf("Counts = %v, want versions:2", result.Counts)
	}

	store, err = metadata.NewSQLiteStore(srcPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer store.Close()
	got, err := store.GetVersion(context.Background(), "vault", "extra", "x1")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got != nil {
		t.Errorf("replace import kept the extra row: %+v", got)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dstPath := filepath.Join(t.TempDir(), "dst.db")
	store, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	store.Close()

	payload := `{"shelfstore_export": {"version": 99}}`
	if _, err := ImportMetadata(dstPath, payload, nil); err == nil {
		t.Fatal("import of a future export version should fail")
	}
}
