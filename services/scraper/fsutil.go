package scraper

import (
	"os"
	"path/filepath"
	"strings"

	"triage/pkg/triage"
)

// writeFileAtomic writes data to dir/name through a hidden temp file in the
// same directory followed by a rename, so readers see either nothing or the
// complete file.
func writeFileAtomic(dir, name string, data []byte) error {
	final := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return &IOError{Op: "create temp for", Path: final, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return &IOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &IOError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return &IOError{Op: "rename", Path: final, Err: err}
	}
	return nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, &IOError{Op: "stat", Path: path, Err: err}
	}
}

// validateSampleID rejects ids that are not a single plain path segment.
func validateSampleID(id string) error {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") ||
		strings.ContainsAny(id, `/\`+"\x00") {
		return &triage.ConsistencyError{SampleID: id, Reason: "sample id is not a valid path segment"}
	}
	return nil
}
