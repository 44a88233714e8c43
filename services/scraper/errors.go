package scraper

import (
	"errors"
	"fmt"
)

// ErrReportUnavailable marks a report that could not be fetched or decoded.
// The engine logs and skips such items instead of aborting the run.
var ErrReportUnavailable = errors.New("report unavailable")

// IOError reports a local filesystem failure. It is always fatal to a run.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
