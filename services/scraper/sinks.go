package scraper

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Event subjects published by BusNotifier.
const (
	SubjectSampleStored   = "triage.samples.stored"
	SubjectScrapeFinished = "triage.scrape.finished"
	// StreamName is the JetStream stream capturing both subjects.
	StreamName = "TRIAGE"
)

// ArtifactEvent describes a sample binary that was just written to the store.
type ArtifactEvent struct {
	RunID     uuid.UUID  `json:"run_id"`
	SampleID  string     `json:"sample_id"`
	SHA256    string     `json:"sha256"`
	Size      int64      `json:"size"`
	Filename  *string    `json:"filename,omitempty"`
	Path      string     `json:"path"`
	Submitted time.Time  `json:"submitted"`
	Reported  *time.Time `json:"reported,omitempty"`
}

// Sink is told about stored artifacts and finished runs. Errors are logged and
// counted by the engine but never stop a scrape.
type Sink interface {
	Name() string
	ArtifactStored(ctx context.Context, ev ArtifactEvent) error
	ScrapeFinished(ctx context.Context, s Summary) error
}

// ObjectStore is the part of pkg/s3 the mirror sink uses.
type ObjectStore interface {
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
}

// S3Mirror copies every stored sample to bucket under prefix+sha256.
type S3Mirror struct {
	store  ObjectStore
	bucket string
	prefix string
}

func NewS3Mirror(store ObjectStore, bucket, prefix string) *S3Mirror {
	return &S3Mirror{store: store, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) Name() string { return "s3" }

// Key returns the object key of a digest.
func (m *S3Mirror) Key(sha256 string) string { return m.prefix + sha256 }

func (m *S3Mirror) ArtifactStored(ctx context.Context, ev ArtifactEvent) error {
	key := m.Key(ev.SHA256)
	exists, err := m.store.ObjectExists(ctx, m.bucket, key)
	if err != nil {
		return fmt.Errorf("head %s: %w", key, err)
	}
	if exists {
		return nil
	}

	f, err := os.Open(ev.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", ev.Path, err)
	}
	defer f.Close()

	if err := m.store.PutObject(ctx, m.bucket, key, f, ev.Size, ev.SHA256); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (m *S3Mirror) ScrapeFinished(context.Context, Summary) error { return nil }

// Publisher is the part of pkg/bus the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// BusNotifier publishes scrape events to NATS.
type BusNotifier struct {
	pub Publisher
}

func NewBusNotifier(pub Publisher) *BusNotifier {
	return &BusNotifier{pub: pub}
}

func (n *BusNotifier) Name() string { return "nats" }

func (n *BusNotifier) ArtifactStored(ctx context.Context, ev ArtifactEvent) error {
	return n.pub.Publish(ctx, SubjectSampleStored, ev)
}

func (n *BusNotifier) ScrapeFinished(ctx context.Context, s Summary) error {
	return n.pub.Publish(ctx, SubjectScrapeFinished, s)
}
