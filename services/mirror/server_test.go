package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"triage/services/scraper"
)

var digest = strings.Repeat("ab", 32)

type fakePresigner struct {
	key string
	ttl time.Duration
}

func (p *fakePresigner) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	p.key, p.ttl = key, ttl
	return "https://s3.example.test/" + bucket + "/" + key, nil
}

type fakeCatalog struct {
	limit int
	err   error
}

func (c *fakeCatalog) Recent(_ context.Context, limit int) ([]scraper.CatalogSample, error) {
	c.limit = limit
	return []scraper.CatalogSample{{SHA256: digest, SampleID: "240501-a", Size: 9}}, c.err
}

func (c *fakeCatalog) Ping(context.Context) error { return c.err }

func newTestServer(t *testing.T, mutate func(*Options)) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{scraper.ReportsDir, scraper.SamplesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, scraper.ReportsDir, "240501-a.json"), []byte(`{"sample":{"sample":"240501-a"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, scraper.SamplesDir, digest), []byte("MZ sample"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := Options{Dir: dir, Logger: zerolog.Nop(), Gatherer: prometheus.NewRegistry()}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServerRoutes(t *testing.T) {
	srv, dir := newTestServer(t, nil)
	if err := scraper.SaveWatermark(dir, time.Date(2024, 5, 11, 8, 30, 15, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", "/healthz", http.StatusOK, "ok"},
		{"ready", "/readyz", http.StatusOK, "ready"},
		{"state", "/v1/state", http.StatusOK, `"last_scrape":"2024-05-11T08:30:15Z"`},
		{"report", "/v1/reports/240501-a", http.StatusOK, `{"sample":{"sample":"240501-a"}}`},
		{"missing report", "/v1/reports/240501-zz", http.StatusNotFound, ""},
		{"hidden report id", "/v1/reports/.secret", http.StatusBadRequest, ""},
		{"sample bytes", "/v1/samples/" + strings.ToUpper(digest), http.StatusOK, "MZ sample"},
		{"bad digest", "/v1/samples/xyz", http.StatusBadRequest, ""},
		{"missing sample", "/v1/samples/" + strings.Repeat("0", 64), http.StatusNotFound, ""},
		{"presign without s3", "/v1/samples/" + digest + "?presign=1", http.StatusNotImplemented, ""},
		{"list without catalog", "/v1/samples", http.StatusNotImplemented, ""},
		{"metrics", "/metrics", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, srv.URL+tt.path)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", status, tt.wantStatus, body)
			}
			if tt.wantBody != "" && !strings.Contains(body, tt.wantBody) {
				t.Fatalf("body = %q, want to contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestServerPresign(t *testing.T) {
	presigner := &fakePresigner{}
	srv, _ := newTestServer(t, func(o *Options) {
		o.Presigner = presigner
		o.Bucket = "mirror"
		o.Prefix = "samples/"
	})

	status, body := get(t, srv.URL+"/v1/samples/"+digest+"?presign=1&ttl=99999")
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %q", status, body)
	}
	var resp struct {
		URL       string `json:"url"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != "https://s3.example.test/mirror/samples/"+digest || resp.ExpiresIn != maxTTLSeconds {
		t.Fatalf("resp = %+v", resp)
	}
	if presigner.ttl != time.Duration(maxTTLSeconds)*time.Second {
		t.Fatalf("ttl = %v", presigner.ttl)
	}

	if status, _ := get(t, srv.URL+"/v1/samples/"+digest+"?presign=1&ttl=-5"); status != http.StatusBadRequest {
		t.Fatalf("negative ttl status = %d", status)
	}
}

func TestServerCatalog(t *testing.T) {
	catalog := &fakeCatalog{}
	srv, _ := newTestServer(t, func(o *Options) { o.Catalog = catalog })

	status, body := get(t, srv.URL+"/v1/samples?limit=10000")
	if status != http.StatusOK || !strings.Contains(body, `"sample_id":"240501-a"`) {
		t.Fatalf("status = %d body = %q", status, body)
	}
	if catalog.limit != maxListLimit {
		t.Fatalf("limit = %d", catalog.limit)
	}

	catalog.err = errors.New("connection refused")
	if status, _ := get(t, srv.URL+"/readyz"); status != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d", status)
	}
	if status, _ := get(t, srv.URL+"/v1/samples"); status != http.StatusInternalServerError {
		t.Fatalf("list status = %d", status)
	}
}

func TestNewServerRequiresDirectory(t *testing.T) {
	if _, err := NewServer(Options{Dir: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected error for missing dir")
	}
}
