package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"triage/pkg/triage"
)

// ArtifactStore keeps sample binaries under dir, named by their sha256.
type ArtifactStore struct {
	dir    string
	verify bool
}

// NewArtifactStore returns a store rooted at dir. With verify set, fetched
// bytes must hash to the key they are stored under.
func NewArtifactStore(dir string, verify bool) *ArtifactStore {
	return &ArtifactStore{dir: dir, verify: verify}
}

// Path returns where the artifact with the given digest lives.
func (s *ArtifactStore) Path(digest string) string {
	return filepath.Join(s.dir, strings.ToLower(digest))
}

// Has reports whether digest is already stored.
func (s *ArtifactStore) Has(digest string) (bool, error) {
	key, err := NormalizeDigest(digest)
	if err != nil {
		return false, err
	}
	return fileExists(filepath.Join(s.dir, key))
}

// EnsureDownloaded stores the artifact keyed by digest unless it is already
// present. It returns true only when fetch ran and the file was written.
func (s *ArtifactStore) EnsureDownloaded(ctx context.Context, digest string, fetch func(context.Context) ([]byte, error)) (bool, error) {
	key, err := NormalizeDigest(digest)
	if err != nil {
		return false, err
	}
	exists, err := fileExists(filepath.Join(s.dir, key))
	if err != nil || exists {
		return false, err
	}

	data, err := fetch(ctx)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", key, err)
	}
	if s.verify {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != key {
			return false, &triage.ConsistencyError{Reason: fmt.Sprintf("downloaded content hashes to %s, report claims %s", got, key)}
		}
	}
	if err := writeFileAtomic(s.dir, key, data); err != nil {
		return false, err
	}
	return true, nil
}

// NormalizeDigest lower-cases a hex sha256 and checks its shape.
func NormalizeDigest(digest string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(digest))
	if len(key) != sha256.Size*2 {
		return "", &triage.ConsistencyError{Reason: fmt.Sprintf("invalid sha256 %q", digest)}
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", &triage.ConsistencyError{Reason: fmt.Sprintf("invalid sha256 %q", digest)}
	}
	return key, nil
}
