package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCatalog, downCatalog)
}

var upStatements = []string{
	`CREATE TABLE IF NOT EXISTS scrape_runs (
		id                 uuid PRIMARY KEY,
		target_dir         text        NOT NULL,
		started_at         timestamptz NOT NULL,
		finished_at        timestamptz NOT NULL,
		previous_watermark timestamptz NOT NULL,
		items_processed    integer     NOT NULL DEFAULT 0,
		new_samples        integer     NOT NULL DEFAULT 0,
		reports_fetched    integer     NOT NULL DEFAULT 0,
		report_cache_hits  integer     NOT NULL DEFAULT 0,
		reports_skipped    integer     NOT NULL DEFAULT 0,
		stop_reason        text        NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS samples (
		sha256      text PRIMARY KEY,
		sample_id   text        NOT NULL,
		filename    text,
		size        bigint      NOT NULL,
		submitted   timestamptz NOT NULL,
		reported    timestamptz,
		stored_at   timestamptz NOT NULL DEFAULT now(),
		run_id      uuid        NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS samples_stored_at_idx ON samples (stored_at DESC)`,
}

func upCatalog(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range upStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downCatalog(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS samples`,
		`DROP TABLE IF EXISTS scrape_runs`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
