package triage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConsistency matches every *ConsistencyError via errors.Is.
var ErrConsistency = errors.New("consistency error")

// RemoteError reports a non-success response from the sandbox API. Body holds
// the raw response body for diagnostics.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *RemoteError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, body)
}

// ConsistencyError reports a violated data invariant, such as an unknown feed
// item kind or a report without exactly one root file.
type ConsistencyError struct {
	SampleID string
	Reason   string
}

func (e *ConsistencyError) Error() string {
	if e.SampleID == "" {
		return "consistency error: " + e.Reason
	}
	return fmt.Sprintf("consistency error for sample %s: %s", e.SampleID, e.Reason)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}
