package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"triage/pkg/triage"
)

// ReportFetcher retrieves the raw static report of a sample.
type ReportFetcher interface {
	Report(ctx context.Context, sampleID string) ([]byte, error)
}

// RefreshPolicy controls when a cached report is fetched again.
type RefreshPolicy int

const (
	// RefreshNever trusts a cached report forever.
	RefreshNever RefreshPolicy = iota
	// RefreshNonTerminal refetches reports whose feed item has not reached a
	// terminal status yet.
	RefreshNonTerminal
)

func (p RefreshPolicy) String() string {
	switch p {
	case RefreshNever:
		return "never"
	case RefreshNonTerminal:
		return "non-terminal"
	default:
		return fmt.Sprintf("refresh(%d)", int(p))
	}
}

// ReportCache keeps one verbatim report document per sample id under dir.
// Entries are never evicted.
type ReportCache struct {
	dir   string
	fetch ReportFetcher
}

// NewReportCache returns a cache rooted at dir. The directory must exist.
func NewReportCache(dir string, fetch ReportFetcher) *ReportCache {
	return &ReportCache{dir: dir, fetch: fetch}
}

// Path returns where the report of sampleID is stored.
func (c *ReportCache) Path(sampleID string) string {
	return filepath.Join(c.dir, sampleID+".json")
}

// Cached returns the stored report, or nil when there is none.
func (c *ReportCache) Cached(sampleID string) (*triage.Report, error) {
	if err := validateSampleID(sampleID); err != nil {
		return nil, err
	}
	path := c.Path(sampleID)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	report, err := triage.ParseReport(raw)
	if err != nil {
		return nil, &IOError{Op: "parse cached report", Path: path, Err: err}
	}
	return report, nil
}

// GetOrFetch returns the cached report of sampleID, fetching and persisting it
// first when absent. fetched reports whether the network was used.
func (c *ReportCache) GetOrFetch(ctx context.Context, sampleID string) (report *triage.Report, fetched bool, err error) {
	report, err = c.Cached(sampleID)
	if err != nil {
		return nil, false, err
	}
	if report != nil {
		return report, false, nil
	}
	report, err = c.Fetch(ctx, sampleID)
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

// Fetch downloads the report of sampleID and replaces any cached copy. The
// body must decode before anything is written.
func (c *ReportCache) Fetch(ctx context.Context, sampleID string) (*triage.Report, error) {
	if err := validateSampleID(sampleID); err != nil {
		return nil, err
	}
	raw, err := c.fetch.Report(ctx, sampleID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrReportUnavailable, err)
	}
	report, err := triage.ParseReport(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: sample %s: %w", ErrReportUnavailable, sampleID, err)
	}
	if err := writeFileAtomic(c.dir, sampleID+".json", raw); err != nil {
		return nil, err
	}
	return report, nil
}
