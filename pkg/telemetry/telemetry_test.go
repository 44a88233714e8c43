package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Options{Service: "triagectl", Format: FormatJSON, Out: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("sample", "240501-a").Msg("stored")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "triagectl" || entry["sample"] != "240501-a" || entry["message"] != "stored" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewLoggerDebugLevel(t *testing.T) {
	logger, err := NewLogger(Options{Debug: true, Format: FormatJSON, Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %v", logger.GetLevel())
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, _, err := Init(context.Background(), Options{Service: "triagectl", Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, _, err := Init(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without service name")
	}
}

func TestMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := Middleware("mirror", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state", nil))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry["path"] != "/v1/state" || entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("entry = %v", entry)
	}
}
