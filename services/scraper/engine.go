package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"triage/pkg/triage"
)

const (
	// DefaultMaxNewSamples is the per-run download budget.
	DefaultMaxNewSamples = 10

	// ReportsDir and SamplesDir are the subdirectories of a mirror.
	ReportsDir = "reports"
	SamplesDir = "samples"

	progressEvery = 100
)

// Source is the remote side of a scrape. *triage.Client satisfies it.
type Source interface {
	Feed(ctx context.Context, opts triage.FeedOptions) iter.Seq2[triage.FeedItem, error]
	Report(ctx context.Context, sampleID string) ([]byte, error)
	Download(ctx context.Context, sampleID string) ([]byte, error)
}

// StopReason tells why a run ended without error.
type StopReason string

const (
	StopFeedExhausted StopReason = "feed_exhausted"
	StopBudget        StopReason = "budget"
	StopWatermark     StopReason = "watermark"
)

// Config configures an Engine.
type Config struct {
	Source    Source
	TargetDir string
	// MaxNewSamples caps newly downloaded samples per run. Zero means
	// DefaultMaxNewSamples.
	MaxNewSamples   int
	IgnoreWatermark bool
	Scope           triage.Scope
	PageSize        int
	VerifyDigest    bool
	RefreshPolicy   RefreshPolicy
	// StrictOrder turns a feed that is not sorted newest first into a fatal
	// error instead of a warning.
	StrictOrder bool
	Now         func() time.Time
	Logger      zerolog.Logger
	Metrics     *Metrics
	Sinks       []Sink
}

// Summary describes one completed run.
type Summary struct {
	RunID             uuid.UUID  `json:"run_id"`
	TargetDir         string     `json:"target_dir"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        time.Time  `json:"finished_at"`
	PreviousWatermark time.Time  `json:"previous_watermark"`
	ItemsProcessed    int        `json:"items_processed"`
	NewSamples        int        `json:"new_samples"`
	ReportsFetched    int        `json:"reports_fetched"`
	ReportCacheHits   int        `json:"report_cache_hits"`
	ReportsSkipped    int        `json:"reports_skipped"`
	OrderViolations   int        `json:"order_violations"`
	StopReason        StopReason `json:"stop_reason"`
}

// Engine mirrors the feed into a target directory. Runs against the same
// directory must not overlap.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("scraper: source is required")
	}
	if cfg.TargetDir == "" {
		return nil, errors.New("scraper: target dir is required")
	}
	if cfg.MaxNewSamples == 0 {
		cfg.MaxNewSamples = DefaultMaxNewSamples
	}
	if cfg.MaxNewSamples < 1 {
		return nil, fmt.Errorf("scraper: max new samples must be at least 1, got %d", cfg.MaxNewSamples)
	}
	if cfg.Scope == "" {
		cfg.Scope = triage.ScopePublic
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = triage.MaxPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "scraper").Logger(),
		metrics: metrics,
	}, nil
}

// Metrics exposes the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

type run struct {
	summary   Summary
	watermark time.Time
	reports   *ReportCache
	artifacts *ArtifactStore
	log       zerolog.Logger
}

// Run performs one scrape. The watermark is advanced to the run's start time
// only when the run ends without error.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	dir := e.cfg.TargetDir
	info, err := os.Stat(dir)
	if err != nil {
		return Summary{}, &IOError{Op: "stat target", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return Summary{}, &IOError{Op: "stat target", Path: dir, Err: errors.New("not a directory")}
	}
	for _, sub := range []string{ReportsDir, SamplesDir} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return Summary{}, &IOError{Op: "create", Path: path, Err: err}
		}
	}

	watermark, err := LoadWatermark(dir)
	if err != nil {
		return Summary{}, err
	}

	r := &run{
		summary: Summary{
			RunID:             uuid.New(),
			TargetDir:         dir,
			StartedAt:         e.cfg.Now().UTC(),
			PreviousWatermark: watermark,
		},
		watermark: watermark,
		reports:   NewReportCache(filepath.Join(dir, ReportsDir), e.cfg.Source),
		artifacts: NewArtifactStore(filepath.Join(dir, SamplesDir), e.cfg.VerifyDigest),
	}
	r.log = e.log.With().Str("run_id", r.summary.RunID.String()).Logger()
	r.log.Info().
		Str("target", dir).
		Str("watermark", FormatWatermark(watermark)).
		Bool("ignore_watermark", e.cfg.IgnoreWatermark).
		Int("budget", e.cfg.MaxNewSamples).
		Msg("scrape started")

	stop, err := e.scrape(ctx, r)
	r.summary.FinishedAt = e.cfg.Now().UTC()
	e.metrics.Duration.Observe(r.summary.FinishedAt.Sub(r.summary.StartedAt).Seconds())
	if err != nil {
		e.metrics.Runs.WithLabelValues("failed").Inc()
		r.log.Error().Err(err).Int("items", r.summary.ItemsProcessed).Msg("scrape failed")
		return r.summary, err
	}
	r.summary.StopReason = stop

	if err := SaveWatermark(dir, r.summary.StartedAt); err != nil {
		e.metrics.Runs.WithLabelValues("failed").Inc()
		return r.summary, err
	}
	e.metrics.Runs.WithLabelValues("ok").Inc()
	e.metrics.LastSuccess.Set(float64(r.summary.StartedAt.Unix()))

	r.log.Info().
		Str("stop_reason", string(stop)).
		Int("items", r.summary.ItemsProcessed).
		Int("new_samples", r.summary.NewSamples).
		Int("reports_fetched", r.summary.ReportsFetched).
		Int("report_cache_hits", r.summary.ReportCacheHits).
		Int("reports_skipped", r.summary.ReportsSkipped).
		Msg("scrape finished")

	e.notify(ctx, r.log, func(s Sink) error { return s.ScrapeFinished(ctx, r.summary) })
	return r.summary, nil
}

func (e *Engine) scrape(ctx context.Context, r *run) (StopReason, error) {
	feed := e.cfg.Source.Feed(ctx, triage.FeedOptions{
		Scope:    e.cfg.Scope,
		PageSize: e.cfg.PageSize,
		Paginate: true,
	})

	var prev time.Time
	for item, err := range feed {
		if err != nil {
			return "", fmt.Errorf("read feed: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		r.summary.ItemsProcessed++
		e.metrics.ItemsProcessed.Inc()
		if r.summary.ItemsProcessed%progressEvery == 0 {
			r.log.Debug().
				Int("items", r.summary.ItemsProcessed).
				Time("submitted", item.Submitted).
				Msg("scrape progress")
		}

		if !prev.IsZero() && item.Submitted.After(prev) {
			r.summary.OrderViolations++
			e.metrics.OrderViolations.Inc()
			if e.cfg.StrictOrder {
				return "", &triage.ConsistencyError{
					SampleID: item.ID,
					Reason:   fmt.Sprintf("feed out of order: submitted %s after %s", item.Submitted.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano)),
				}
			}
			r.log.Warn().Str("sample", item.ID).Time("submitted", item.Submitted).Time("previous", prev).Msg("feed out of order")
		}
		prev = item.Submitted

		report, err := e.report(ctx, r, item)
		if errors.Is(err, ErrReportUnavailable) {
			r.summary.ReportsSkipped++
			e.metrics.ReportsSkipped.Inc()
			r.log.Warn().Err(err).Str("sample", item.ID).Msg("skipping item without report")
			continue
		}
		if err != nil {
			return "", err
		}

		if !e.cfg.IgnoreWatermark && report.Analysis.Reported != nil && report.Analysis.Reported.Before(r.watermark) {
			r.log.Debug().Str("sample", item.ID).Time("reported", *report.Analysis.Reported).Msg("reached watermark")
			return StopWatermark, nil
		}

		switch item.Kind {
		case triage.KindFile:
			if err := e.storeSample(ctx, r, item, report); err != nil {
				return "", err
			}
		case triage.KindURL:
		default:
			return "", &triage.ConsistencyError{SampleID: item.ID, Reason: fmt.Sprintf("unknown feed item kind %s", item.Kind)}
		}

		if r.summary.NewSamples >= e.cfg.MaxNewSamples {
			return StopBudget, nil
		}
	}
	return StopFeedExhausted, nil
}

func (e *Engine) report(ctx context.Context, r *run, item triage.FeedItem) (*triage.Report, error) {
	var (
		report  *triage.Report
		fetched bool
		err     error
	)
	if e.cfg.RefreshPolicy == RefreshNonTerminal && !item.Status.Terminal() {
		report, err = r.reports.Fetch(ctx, item.ID)
		fetched = true
		if errors.Is(err, ErrReportUnavailable) {
			cached, cacheErr := r.reports.Cached(item.ID)
			if cacheErr != nil {
				return nil, cacheErr
			}
			if cached != nil {
				r.log.Warn().Err(err).Str("sample", item.ID).Msg("refresh failed, using cached report")
				report, fetched, err = cached, false, nil
			}
		}
	} else {
		report, fetched, err = r.reports.GetOrFetch(ctx, item.ID)
	}
	if err != nil {
		return nil, err
	}
	if fetched {
		r.summary.ReportsFetched++
		e.metrics.ReportsFetched.Inc()
	} else {
		r.summary.ReportCacheHits++
		e.metrics.ReportCacheHits.Inc()
	}
	return report, nil
}

func (e *Engine) storeSample(ctx context.Context, r *run, item triage.FeedItem, report *triage.Report) error {
	root, err := report.RootFile()
	if err != nil {
		return err
	}
	sampleID := report.Sample.ID
	if sampleID == "" {
		sampleID = item.ID
	}

	var size int64
	stored, err := r.artifacts.EnsureDownloaded(ctx, root.SHA256, func(ctx context.Context) ([]byte, error) {
		data, err := e.cfg.Source.Download(ctx, sampleID)
		size = int64(len(data))
		return data, err
	})
	if err != nil {
		return err
	}
	if !stored {
		r.log.Debug().Str("sample", item.ID).Str("sha256", root.SHA256).Msg("sample already stored")
		return nil
	}

	r.summary.NewSamples++
	e.metrics.SamplesStored.Inc()
	e.metrics.BytesStored.Add(float64(size))

	digest, _ := NormalizeDigest(root.SHA256)
	ev := ArtifactEvent{
		RunID:     r.summary.RunID,
		SampleID:  sampleID,
		SHA256:    digest,
		Size:      size,
		Filename:  item.Filename,
		Path:      r.artifacts.Path(digest),
		Submitted: item.Submitted,
		Reported:  report.Analysis.Reported,
	}
	r.log.Info().Str("sample", sampleID).Str("sha256", digest).Int64("size", size).Msg("sample stored")
	e.notify(ctx, r.log, func(s Sink) error { return s.ArtifactStored(ctx, ev) })
	return nil
}

func (e *Engine) notify(ctx context.Context, log zerolog.Logger, fn func(Sink) error) {
	for _, sink := range e.cfg.Sinks {
		if ctx.Err() != nil {
			return
		}
		if err := fn(sink); err != nil {
			e.metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			log.Warn().Err(err).Str("sink", sink.Name()).Msg("sink notification failed")
		}
	}
}
