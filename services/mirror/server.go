package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"triage/pkg/telemetry"
	"triage/pkg/triage"
	"triage/services/scraper"
)

const (
	defaultTTLSeconds = 300
	maxTTLSeconds     = 3600

	defaultListLimit = 100
	maxListLimit     = 500
)

// Presigner issues temporary download URLs for mirrored objects.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Lister returns catalog rows.
type Lister interface {
	Recent(ctx context.Context, limit int) ([]scraper.CatalogSample, error)
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Dir      string
	Service  string
	Logger   zerolog.Logger
	Gatherer prometheus.Gatherer

	// Presigner, Bucket and Prefix enable ?presign=1 on sample downloads.
	Presigner Presigner
	Bucket    string
	Prefix    string

	// Catalog enables GET /v1/samples.
	Catalog Lister
}

// Server is a read-only HTTP view of a mirror directory.
type Server struct {
	opts      Options
	reports   *scraper.ReportCache
	artifacts *scraper.ArtifactStore
}

// NewServer checks that opts.Dir is a directory and builds a Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Dir == "" {
		return nil, errors.New("mirror dir is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat mirror dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror dir %q is not a directory", opts.Dir)
	}
	if opts.Service == "" {
		opts.Service = "triage-mirror"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		opts:      opts,
		reports:   scraper.NewReportCache(filepath.Join(opts.Dir, scraper.ReportsDir), nil),
		artifacts: scraper.NewArtifactStore(filepath.Join(opts.Dir, scraper.SamplesDir), false),
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(s.opts.Service, s.opts.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/reports/{id}", s.handleReport)
		r.Get("/samples", s.handleListSamples)
		r.Get("/samples/{sha256}", s.handleSample)
	})
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.opts.Dir); err != nil {
		http.Error(w, "mirror dir unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.opts.Catalog != nil {
		if err := s.opts.Catalog.Ping(r.Context()); err != nil {
			http.Error(w, "catalog unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	wm, err := scraper.LoadWatermark(s.opts.Dir)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"last_scrape": scraper.FormatWatermark(wm),
		"scraped":     !wm.Equal(scraper.DefaultWatermark),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.reports.Cached(id)
	switch {
	case errors.Is(err, triage.ErrConsistency):
		http.Error(w, "invalid sample id", http.StatusBadRequest)
		return
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	case report == nil:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(report.Raw)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	digest, err := scraper.NormalizeDigest(chi.URLParam(r, "sha256"))
	if err != nil {
		http.Error(w, "invalid sha256", http.StatusBadRequest)
		return
	}
	ok, err := s.artifacts.Has(digest)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Get("presign") == "1" || q.Get("presign") == "true" {
		s.presign(w, r, digest, q.Get("ttl"))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", digest))
	http.ServeFile(w, r, s.artifacts.Path(digest))
}

func (s *Server) presign(w http.ResponseWriter, r *http.Request, digest, rawTTL string) {
	if s.opts.Presigner == nil || s.opts.Bucket == "" {
		http.Error(w, "object storage not configured", http.StatusNotImplemented)
		return
	}

	ttlSeconds := defaultTTLSeconds
	if raw := strings.TrimSpace(rawTTL); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttlSeconds = min(parsed, maxTTLSeconds)
	}

	url, err := s.opts.Presigner.PresignGet(r.Context(), s.opts.Bucket, s.opts.Prefix+digest, time.Duration(ttlSeconds)*time.Second)
	if err != nil {
		s.fail(w, r, http.StatusBadGateway, fmt.Errorf("presign: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "expires_in": ttlSeconds})
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	if s.opts.Catalog == nil {
		http.Error(w, "catalog not configured", http.StatusNotImplemented)
		return
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxListLimit)
	}

	rows, err := s.opts.Catalog.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []scraper.CatalogSample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": rows})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.opts.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
