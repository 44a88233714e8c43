package scraper

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the scrape counters on a private registry so several
// engines can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	ItemsProcessed  prometheus.Counter
	ReportsFetched  prometheus.Counter
	ReportCacheHits prometheus.Counter
	ReportsSkipped  prometheus.Counter
	SamplesStored   prometheus.Counter
	BytesStored     prometheus.Counter
	OrderViolations prometheus.Counter
	SinkFailures    *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	LastSuccess     prometheus.Gauge
	Duration        prometheus.Histogram
}

// NewMetrics registers the scrape collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ItemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_items_total",
			Help: "Feed items processed.",
		}),
		ReportsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_reports_fetched_total",
			Help: "Reports downloaded from the API.",
		}),
		ReportCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_report_cache_hits_total",
			Help: "Reports served from the local cache.",
		}),
		ReportsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_reports_skipped_total",
			Help: "Feed items skipped because their report was unavailable.",
		}),
		SamplesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_samples_stored_total",
			Help: "Sample binaries newly written to the artifact store.",
		}),
		BytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_bytes_stored_total",
			Help: "Bytes of sample binaries newly written.",
		}),
		OrderViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scrape_order_violations_total",
			Help: "Feed items submitted later than their predecessor.",
		}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_scrape_sink_failures_total",
			Help: "Failed sink notifications.",
		}, []string{"sink"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_scrape_runs_total",
			Help: "Scrape runs by outcome.",
		}, []string{"outcome"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_scrape_last_success_timestamp_seconds",
			Help: "Start time of the last scrape that advanced the watermark.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_scrape_duration_seconds",
			Help:    "Wall time of scrape runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.Registry.MustRegister(
		m.ItemsProcessed,
		m.ReportsFetched,
		m.ReportCacheHits,
		m.ReportsSkipped,
		m.SamplesStored,
		m.BytesStored,
		m.OrderViolations,
		m.SinkFailures,
		m.Runs,
		m.LastSuccess,
		m.Duration,
	)
	return m
}

// Push sends the current values to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(m.Registry).PushContext(ctx)
}
