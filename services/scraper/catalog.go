package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"triage/pkg/db"
)

// Catalog records stored samples and finished runs in Postgres.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// CatalogSample is one row of the samples table.
type CatalogSample struct {
	SHA256    string     `db:"sha256" json:"sha256"`
	SampleID  string     `db:"sample_id" json:"sample_id"`
	Filename  *string    `db:"filename" json:"filename,omitempty"`
	Size      int64      `db:"size" json:"size"`
	Submitted time.Time  `db:"submitted" json:"submitted"`
	Reported  *time.Time `db:"reported" json:"reported,omitempty"`
	StoredAt  time.Time  `db:"stored_at" json:"stored_at"`
	RunID     string     `db:"run_id" json:"run_id"`
}

func (c *Catalog) Name() string { return "catalog" }

func (c *Catalog) ArtifactStored(ctx context.Context, ev ArtifactEvent) error {
	_, err := db.Exec(ctx, c.pool, `
		INSERT INTO samples (sha256, sample_id, filename, size, submitted, reported, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sha256) DO NOTHING`,
		ev.SHA256, ev.SampleID, ev.Filename, ev.Size, ev.Submitted, ev.Reported, ev.RunID.String(),
	)
	if err != nil {
		return fmt.Errorf("insert sample %s: %w", ev.SHA256, err)
	}
	return nil
}

func (c *Catalog) ScrapeFinished(ctx context.Context, s Summary) error {
	_, err := db.Exec(ctx, c.pool, `
		INSERT INTO scrape_runs (id, target_dir, started_at, finished_at, previous_watermark,
			items_processed, new_samples, reports_fetched, report_cache_hits, reports_skipped, stop_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.RunID.String(), s.TargetDir, s.StartedAt, s.FinishedAt, s.PreviousWatermark,
		s.ItemsProcessed, s.NewSamples, s.ReportsFetched, s.ReportCacheHits, s.ReportsSkipped, string(s.StopReason),
	)
	if err != nil {
		return fmt.Errorf("insert scrape run %s: %w", s.RunID, err)
	}
	return nil
}

// Recent lists the most recently stored samples, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]CatalogSample, error) {
	var rows []CatalogSample
	err := db.Select(ctx, c.pool, &rows, `
		SELECT sha256, sample_id, filename, size, submitted, reported, stored_at, run_id::text AS run_id
		FROM samples
		ORDER BY stored_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return rows, nil
}

// Ping checks the catalog is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	return db.Ping(ctx, c.pool)
}
