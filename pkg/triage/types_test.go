package triage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeFeedItem(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		wantKind Kind
		check    func(t *testing.T, item FeedItem)
	}{
		{
			name:     "full row",
			input:    `{"id":"240501-a","kind":"file","filename":"a.exe","private":true,"status":"reported","submitted":"2024-05-01T10:11:12.345678Z","completed":"2024-05-01T10:20:00Z","tasks":[{"id":"behavioral1","status":"reported"}]}`,
			wantKind: KindFile,
			check: func(t *testing.T, item FeedItem) {
				if item.Filename == nil || *item.Filename != "a.exe" {
					t.Errorf("filename = %v", item.Filename)
				}
				if !item.Private || item.Completed == nil || len(item.Tasks) != 1 {
					t.Errorf("item = %+v", item)
				}
				want := time.Date(2024, 5, 1, 10, 11, 12, 345678000, time.UTC)
				if !item.Submitted.Equal(want) {
					t.Errorf("submitted = %v, want %v", item.Submitted, want)
				}
			},
		},
		{
			name:     "optional fields absent",
			input:    `{"id":"240501-b","kind":"url","status":"pending","submitted":"2024-05-01T10:11:12Z"}`,
			wantKind: KindURL,
			check: func(t *testing.T, item FeedItem) {
				if item.Filename != nil || item.Completed != nil || item.Tasks != nil {
					t.Errorf("expected absent fields, got %+v", item)
				}
			},
		},
		{
			name:     "empty tasks list is present",
			input:    `{"id":"240501-c","kind":"url","status":"pending","submitted":"2024-05-01T10:11:12Z","tasks":[]}`,
			wantKind: KindURL,
			check: func(t *testing.T, item FeedItem) {
				if item.Tasks == nil || len(item.Tasks) != 0 {
					t.Errorf("tasks = %#v", item.Tasks)
				}
			},
		},
		{
			name:    "unknown kind",
			input:   `{"id":"x","kind":"archive","submitted":"2024-05-01T10:11:12Z"}`,
			wantErr: true,
		},
		{
			name:    "missing id",
			input:   `{"kind":"file","submitted":"2024-05-01T10:11:12Z"}`,
			wantErr: true,
		},
		{
			name:    "missing submitted",
			input:   `{"id":"x","kind":"file"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := decodeFeedItem(json.RawMessage(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFeedItem() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrConsistency) {
					t.Fatalf("error %v does not match ErrConsistency", err)
				}
				return
			}
			if item.Kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", item.Kind, tt.wantKind)
			}
			if tt.check != nil {
				tt.check(t, item)
			}
		})
	}
}

func TestReportRootFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "single root",
			input: `{"sample":{"sample":"s1"},"files":[{"depth":0,"sha256":"aa"},{"depth":1,"sha256":"bb"}]}`,
			want:  "aa",
		},
		{
			name:    "no root",
			input:   `{"sample":{"sample":"s1"},"files":[{"depth":1,"sha256":"bb"}]}`,
			wantErr: true,
		},
		{
			name:  "entry without depth is not a root",
			input: `{"sample":{"sample":"s1"},"files":[{"depth":0,"sha256":"aa"},{"sha256":"bb"}]}`,
			want:  "aa",
		},
		{
			name:    "only entries without depth",
			input:   `{"sample":{"sample":"s1"},"files":[{"sha256":"bb"}]}`,
			wantErr: true,
		},
		{
			name:    "two roots",
			input:   `{"sample":{"sample":"s1"},"files":[{"depth":0,"sha256":"aa"},{"depth":0,"sha256":"cc"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReport([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseReport: %v", err)
			}
			root, err := r.RootFile()
			if (err != nil) != tt.wantErr {
				t.Fatalf("RootFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *ConsistencyError
				if !errors.As(err, &ce) || ce.SampleID != "s1" {
					t.Fatalf("error = %#v", err)
				}
				return
			}
			if root.SHA256 != tt.want {
				t.Fatalf("sha256 = %q, want %q", root.SHA256, tt.want)
			}
		})
	}
}

func TestParseReportKeepsRaw(t *testing.T) {
	raw := []byte(`{"sample":{"sample":"s1"},"analysis":{"reported":"2024-05-01T00:00:00Z","score":8},"extra":{"kept":true}}`)
	r, err := ParseReport(raw)
	if err != nil {
		t.Fatalf("ParseReport: %v", err)
	}
	if string(r.Raw) != string(raw) {
		t.Fatalf("raw = %s", r.Raw)
	}
	if r.Analysis.Reported == nil || r.Analysis.Score != 8 {
		t.Fatalf("analysis = %+v", r.Analysis)
	}
	raw[0] = 'X'
	if r.Raw[0] == 'X' {
		t.Fatal("raw shares memory with input")
	}
}
