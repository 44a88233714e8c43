package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{BaseURL: srv.URL, AccessKey: "secret", UserAgent: "triage-test/1.0"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func row(id, kind, submitted string) string {
	return fmt.Sprintf(`{"id":%q,"kind":%q,"status":"reported","submitted":%q}`, id, kind, submitted)
}

func TestFeedSinglePage(t *testing.T) {
	var requests atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "triage-test/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		q := r.URL.Query()
		if q.Get("subset") != "owned" || q.Get("limit") != "200" || q.Has("offset") {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		fmt.Fprintf(w, `{"data":[%s,%s],"next":"cursor-2"}`,
			row("a", "file", "2024-05-02T10:00:00.123Z"),
			row("b", "url", "2024-05-01T10:00:00Z"))
	}))

	var ids []string
	for item, err := range c.Feed(context.Background(), FeedOptions{Scope: ScopeOwned, PageSize: 500}) {
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		ids = append(ids, item.ID)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Fatalf("ids = %v", ids)
	}
	if requests.Load() != 1 {
		t.Fatalf("requests = %d, want 1 without pagination", requests.Load())
	}
}

func TestFeedFollowsCursor(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("offset") {
		case "":
			fmt.Fprintf(w, `{"data":[%s],"next":"p2"}`, row("a", "file", "2024-05-03T00:00:00Z"))
		case "p2":
			fmt.Fprintf(w, `{"data":[%s],"next":"p3"}`, row("b", "file", "2024-05-02T00:00:00Z"))
		case "p3":
			fmt.Fprintf(w, `{"data":[%s]}`, row("c", "url", "2024-05-01T00:00:00Z"))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("offset"))
		}
	}))

	var ids []string
	for item, err := range c.Feed(context.Background(), FeedOptions{Paginate: true, PageSize: 1}) {
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		ids = append(ids, item.ID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFeedStopsRequestingWhenConsumerBreaks(t *testing.T) {
	var requests atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		fmt.Fprintf(w, `{"data":[%s,%s],"next":"p%d"}`,
			row(fmt.Sprintf("x%d", n), "file", "2024-05-02T00:00:00Z"),
			row(fmt.Sprintf("y%d", n), "file", "2024-05-01T00:00:00Z"),
			n+1)
	}))

	for item, err := range c.Feed(context.Background(), FeedOptions{Paginate: true}) {
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if item.ID == "x1" {
			break
		}
	}
	if requests.Load() != 1 {
		t.Fatalf("requests = %d, want 1", requests.Load())
	}
}

func TestFeedRemoteError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"UNAUTHORIZED"}`)
	}))

	var got error
	for _, err := range c.Feed(context.Background(), FeedOptions{}) {
		got = err
	}
	var remote *RemoteError
	if !errors.As(got, &remote) {
		t.Fatalf("error = %v, want *RemoteError", got)
	}
	if remote.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", remote.StatusCode)
	}
	if string(remote.Body) != `{"error":"UNAUTHORIZED"}` {
		t.Fatalf("body = %q", remote.Body)
	}
}

func TestFeedUnknownKindFailsAtPosition(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[%s,%s]}`,
			row("a", "file", "2024-05-02T00:00:00Z"),
			row("b", "archive", "2024-05-01T00:00:00Z"))
	}))

	var ids []string
	var got error
	for item, err := range c.Feed(context.Background(), FeedOptions{}) {
		if err != nil {
			got = err
			break
		}
		ids = append(ids, item.ID)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("ids = %v, want [a]", ids)
	}
	if !errors.Is(got, ErrConsistency) {
		t.Fatalf("error = %v, want consistency error", got)
	}
}

func TestReportAndDownload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/samples/240501-abc/reports/static":
			io.WriteString(w, `{"sample":{"sample":"240501-abc"}}`)
		case "/samples/240501-abc/sample":
			io.WriteString(w, "MZ\x90\x00")
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	report, err := c.Report(ctx, "240501-abc")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if string(report) != `{"sample":{"sample":"240501-abc"}}` {
		t.Fatalf("report = %s", report)
	}
	data, err := c.Download(ctx, "240501-abc")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "MZ\x90\x00" {
		t.Fatalf("download = %q", data)
	}
	if _, err := c.Report(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing report")
	}
}

func TestSubmitFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/samples" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.FormValue("_json")), &meta); err != nil || meta["kind"] != "file" {
			t.Errorf("_json = %q", r.FormValue("_json"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "invoice.exe" || string(body) != "payload" {
			t.Errorf("file = %s %q", hdr.Filename, body)
		}
		io.WriteString(w, `{"id":"240501-new","status":"pending","kind":"file","filename":"invoice.exe","submitted":"2024-05-01T00:00:00Z"}`)
	}))

	info, err := c.SubmitFile(context.Background(), "invoice.exe", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("SubmitFile: %v", err)
	}
	if info.ID != "240501-new" || info.Status != StatusPending {
		t.Fatalf("info = %+v", info)
	}
}

func TestSubmitURLAndStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode: %v", err)
			}
			if body["kind"] != "url" || body["url"] != "http://example.test/x" {
				t.Errorf("body = %v", body)
			}
			io.WriteString(w, `{"id":"240501-url","status":"pending","kind":"url"}`)
		case r.URL.Path == "/samples/240501-url":
			io.WriteString(w, `{"id":"240501-url","status":"reported","kind":"url","completed":"2024-05-01T00:10:00Z"}`)
		}
	}))
	ctx := context.Background()

	info, err := c.SubmitURL(ctx, "http://example.test/x")
	if err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	status, err := c.Sample(ctx, info.ID)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !status.Status.Terminal() || status.Completed == nil {
		t.Fatalf("status = %+v", status)
	}
	if _, err := c.SubmitURL(ctx, " "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestClampPageSize(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 200},
		{-1, 200},
		{50, 50},
		{200, 200},
		{201, 200},
	}
	for _, tt := range tests {
		if got := clampPageSize(tt.in); got != tt.want {
			t.Errorf("clampPageSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
