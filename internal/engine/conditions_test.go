package engine

import (
	"testing"
	"time"

	s3err "github.com/shelfstore/shelfstore/internal/errors"
	"github.com/shelfstore/shelfstore/internal/metadata"
)

func condRecord(etag string, lastModified time.Time) *metadata.VersionRecord {
	return &metadata.VersionRecord{
		Bucket:       "b",
		Key:          "k",
		VersionID:    "v1",
		ETag:         etag,
		LastModified: lastModified,
	}
}

func TestConditionsEvaluate(t *testing.T) {
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := condRecord(`"abc"`, modified)

	tests := []struct {
		name    string
		cond    *Conditions
		current *metadata.VersionRecord
		isRead  bool
		want    error
	}{
		{"nil conditions", nil, rec, true, nil},
		{"empty conditions", &Conditions{}, rec, true, nil},

		{"if-match hit", &Conditions{IfMatch: []string{`"abc"`}}, rec, true, nil},
		{"if-match unquoted hit", &Conditions{IfMatch: []string{"abc"}}, rec, true, nil},
		{"if-match miss", &Conditions{IfMatch: []string{`"zzz"`}}, rec, true, s3err.ErrPreconditionFailed},
		{"if-match star with record", &Conditions{IfMatch: []string{"*"}}, rec, true, nil},
		{"if-match star without record", &Conditions{IfMatch: []string{"*"}}, nil, true, s3err.ErrPreconditionFailed},
		{"if-match list hit", &Conditions{IfMatch: []string{`"zzz"`, `"abc"`}}, rec, true, nil},

		{"if-none-match read hit", &Conditions{IfNoneMatch: []string{`"abc"`}}, rec, true, s3err.ErrNotModified},
		{"if-none-match write hit", &Conditions{IfNoneMatch: []string{`"abc"`}}, rec, false, s3err.ErrPreconditionFailed},
		{"if-none-match miss", &Conditions{IfNoneMatch: []string{`"zzz"`}}, rec, true, nil},
		{"if-none-match star existing write", &Conditions{IfNoneMatch: []string{"*"}}, rec, false, s3err.ErrPreconditionFailed},
		{"if-none-match star absent write", &Conditions{IfNoneMatch: []string{"*"}}, nil, false, nil},

		{"if-unmodified-since ok", &Conditions{IfUnmodifiedSince: modified.Add(time.Hour)}, rec, true, nil},
		{"if-unmodified-since equal ok", &Conditions{IfUnmodifiedSince: modified}, rec, true, nil},
		{"if-unmodified-since stale", &Conditions{IfUnmodifiedSince: modified.Add(-time.Hour)}, rec, true, s3err.ErrPreconditionFailed},

		{"if-modified-since modified", &Conditions{IfModifiedSince: modified.Add(-time.Hour)}, rec, true, nil},
		{"if-modified-since not modified", &Conditions{IfModifiedSince: modified}, rec, true, s3err.ErrNotModified},
		{"if-modified-since future", &Conditions{IfModifiedSince: modified.Add(time.Hour)}, rec, true, s3err.ErrNotModified},
		{"if-modified-since ignored on write", &Conditions{IfModifiedSince: modified}, rec, false, nil},

		// Precedence: If-Match wins over If-Unmodified-Since.
		{
			"if-match overrides stale if-unmodified-since",
			&Conditions{IfMatch: []string{`"abc"`}, IfUnmodifiedSince: modified.Add(-time.Hour)},
			rec, true, nil,
		},
		// Precedence: If-None-Match wins over If-Modified-Since.
		{
			"if-none-match miss overrides if-modified-since",
			&Conditions{IfNoneMatch: []string{`"zzz"`}, IfModifiedSince: modified},
			rec, true, nil,
		},
		// If-Match failure is checked before If-None-Match.
		{
			"if-match failure before if-none-match 304",
			&Conditions{IfMatch: []string{`"zzz"`}, IfNoneMatch: []string{`"abc"`}},
			rec, true, s3err.ErrPreconditionFailed,
		},

		// A delete marker in the latest slot counts as absent.
		{
			"if-match against marker",
			&Conditions{IfMatch: []string{"*"}},
			&metadata.VersionRecord{DeleteMarker: true, VersionID: "m1"},
			true, s3err.ErrPreconditionFailed,
		},
		{
			"if-none-match star against marker",
			&Conditions{IfNoneMatch: []string{"*"}},
			&metadata.VersionRecord{DeleteMarker: true, VersionID: "m1"},
			false, nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cond.Evaluate(tt.current, tt.isRead)
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionsEvaluateCopySource(t *testing.T) {
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := condRecord(`"abc"`, modified)

	tests := []struct {
		name string
		cond *Conditions
		want error
	}{
		{"no conditions", &Conditions{}, nil},
		{"if-match hit", &Conditions{IfMatch: []string{`"abc"`}}, nil},
		{"if-match miss", &Conditions{IfMatch: []string{`"zzz"`}}, s3err.ErrPreconditionFailed},
		// A copy-source If-None-Match hit is 412, never 304.
		{"if-none-match hit", &Conditions{IfNoneMatch: []string{`"abc"`}}, s3err.ErrPreconditionFailed},
		{"if-none-match miss", &Conditions{IfNoneMatch: []string{`"zzz"`}}, nil},
		{"unmodified-since ok", &Conditions{IfUnmodifiedSince: modified}, nil},
		{"unmodified-since stale", &Conditions{IfUnmodifiedSince: modified.Add(-time.Hour)}, s3err.ErrPreconditionFailed},
		{"modified-since ok", &Conditions{IfModifiedSince: modified.Add(-time.Hour)}, nil},
		{"modified-since not modified", &Conditions{IfModifiedSince: modified}, s3err.ErrPreconditionFailed},
		{
			"if-match overrides unmodified-since",
			&Conditions{IfMatch: []string{`"abc"`}, IfUnmodifiedSince: modified.Add(-time.Hour)},
			nil,
		},
		{
			"if-none-match overrides modified-since",
			&Conditions{IfNoneMatch: []string{`"zzz"`}, IfModifiedSince: modified},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cond.EvaluateCopySource(src)
			if got != tt.want {
				t.Errorf("EvaluateCopySource() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseETagList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{`"abc"`, []string{`"abc"`}},
		{`"abc", "def"`, []string{`"abc"`, `"def"`}},
		{"*", []string{"*"}},
		{` "abc" ,, "def" `, []string{`"abc"`, `"def"`}},
	}

	for _, tt := range tests {
		got := ParseETagList(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("ParseETagList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseETagList(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
