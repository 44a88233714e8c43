package archiver

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Entry kinds recorded in the manifest.
const (
	KindState  = "state"
	KindReport = "report"
	KindSample = "sample"
)

// Manifest is the metadata stored as the first member of an archive.
type Manifest struct {
	Version          string    `yaml:"version"`
	CreatedAt        time.Time `yaml:"created_at"`
	LastScrape       string    `yaml:"last_scrape,omitempty"`
	Signer           string    `yaml:"signer,omitempty"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
	Entries          []Entry   `yaml:"entries"`
}

// SigningBytes marshals the manifest without its signature.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// Entry describes one mirrored file.
type Entry struct {
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}
