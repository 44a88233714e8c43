package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	stateFile       = "state.json"
	watermarkLayout = "2006-01-02T15:04:05Z"
)

// DefaultWatermark is used when no scrape has completed yet.
var DefaultWatermark = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

type state struct {
	LastScrape string `json:"last_scrape"`
}

// LoadWatermark reads the last scrape time from dir/state.json, falling back
// to DefaultWatermark when the file does not exist.
func LoadWatermark(dir string) (time.Time, error) {
	path := filepath.Join(dir, stateFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultWatermark, nil
		}
		return time.Time{}, &IOError{Op: "read", Path: path, Err: err}
	}

	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return time.Time{}, &IOError{Op: "decode", Path: path, Err: err}
	}
	if st.LastScrape == "" {
		return DefaultWatermark, nil
	}
	t, err := time.Parse(time.RFC3339, st.LastScrape)
	if err != nil {
		return time.Time{}, &IOError{Op: "decode", Path: path, Err: fmt.Errorf("last_scrape: %w", err)}
	}
	return t.UTC(), nil
}

// SaveWatermark replaces dir/state.json with t, truncated to the second.
func SaveWatermark(dir string, t time.Time) error {
	data, err := json.Marshal(state{LastScrape: FormatWatermark(t)})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return writeFileAtomic(dir, stateFile, data)
}

// FormatWatermark renders t the way state.json stores it.
func FormatWatermark(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(watermarkLayout)
}
