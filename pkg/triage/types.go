package triage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies what was submitted for analysis.
type Kind int

const (
	KindFile Kind = iota + 1
	KindURL
)

// ParseKind maps a wire value to a Kind. Unrecognised values are an error.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "url":
		return KindURL, nil
	default:
		return 0, fmt.Errorf("unknown feed item kind %q", s)
	}
}

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindURL:
		return "url"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending        Status = "pending"
	StatusStaticAnalysis Status = "static_analysis"
	StatusScheduled      Status = "scheduled"
	StatusRunning        Status = "running"
	StatusProcessing     Status = "processing"
	StatusReported       Status = "reported"
	StatusFailed         Status = "failed"
)

// Terminal reports whether no further status transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusReported || s == StatusFailed
}

// Scope selects which feed to walk.
type Scope string

const (
	ScopePublic Scope = "public"
	ScopeOwned  Scope = "owned"
)

// FeedTask is an analysis task listed on a feed row.
type FeedTask struct {
	ID     string `json:"id"`
	Status Status `json:"status,omitempty"`
	Target string `json:"target,omitempty"`
	Pick   string `json:"pick,omitempty"`
}

// FeedItem is one row of the sample feed. Nil pointer fields and a nil Tasks
// slice mean the server did not send the field.
type FeedItem struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Filename  *string    `json:"filename,omitempty"`
	Private   bool       `json:"private"`
	Status    Status     `json:"status"`
	Submitted time.Time  `json:"submitted"`
	Completed *time.Time `json:"completed,omitempty"`
	Tasks     []FeedTask `json:"tasks,omitempty"`
}

type feedRow struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Filename  *string    `json:"filename"`
	Private   bool       `json:"private"`
	Status    Status     `json:"status"`
	Submitted *time.Time `json:"submitted"`
	Completed *time.Time `json:"completed"`
	Tasks     []FeedTask `json:"tasks"`
}

func decodeFeedItem(raw json.RawMessage) (FeedItem, error) {
	var row feedRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return FeedItem{}, fmt.Errorf("decode feed row: %w", err)
	}
	if row.ID == "" {
		return FeedItem{}, &ConsistencyError{Reason: "feed row without id"}
	}
	kind, err := ParseKind(row.Kind)
	if err != nil {
		return FeedItem{}, &ConsistencyError{SampleID: row.ID, Reason: err.Error()}
	}
	if row.Submitted == nil {
		return FeedItem{}, &ConsistencyError{SampleID: row.ID, Reason: "feed row without submitted timestamp"}
	}
	return FeedItem{
		ID:        row.ID,
		Kind:      kind,
		Filename:  row.Filename,
		Private:   row.Private,
		Status:    row.Status,
		Submitted: row.Submitted.UTC(),
		Completed: row.Completed,
		Tasks:     row.Tasks,
	}, nil
}

// Report is the static analysis report of a sample. Only the fields the
// mirror depends on are decoded; Raw keeps the verbatim document.
type Report struct {
	Sample   ReportSample    `json:"sample"`
	Analysis ReportAnalysis  `json:"analysis"`
	Files    []ReportFile    `json:"files"`
	Raw      json.RawMessage `json:"-"`
}

type ReportSample struct {
	ID        string `json:"sample"`
	Kind      string `json:"kind,omitempty"`
	Target    string `json:"target,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Submitted string `json:"submitted,omitempty"`
}

type ReportAnalysis struct {
	Reported *time.Time `json:"reported,omitempty"`
	Score    int        `json:"score,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// ReportFile describes a file seen during analysis. Depth 0 is the submitted
// sample itself; entries without a depth are never the root.
type ReportFile struct {
	Filename string `json:"filename,omitempty"`
	Depth    *int   `json:"depth"`
	Kind     string `json:"kind,omitempty"`
	Size     int64  `json:"size,omitempty"`
	SHA256   string `json:"sha256"`
	Selected bool   `json:"selected,omitempty"`
}

// ParseReport decodes a static report and keeps a copy of the raw body.
func ParseReport(raw []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), raw...)
	return &r, nil
}

// RootFile returns the single depth-0 file of the report.
func (r *Report) RootFile() (ReportFile, error) {
	var (
		root  ReportFile
		found int
	)
	for _, f := range r.Files {
		if f.Depth != nil && *f.Depth == 0 {
			root = f
			found++
		}
	}
	if found != 1 {
		return ReportFile{}, &ConsistencyError{
			SampleID: r.Sample.ID,
			Reason:   fmt.Sprintf("expected exactly one depth-0 file, found %d", found),
		}
	}
	return root, nil
}

// SampleInfo is the submission record returned by the samples endpoint.
type SampleInfo struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Kind      string     `json:"kind"`
	Filename  string     `json:"filename,omitempty"`
	URL       string     `json:"url,omitempty"`
	Private   bool       `json:"private"`
	Submitted time.Time  `json:"submitted"`
	Completed *time.Time `json:"completed,omitempty"`
}
