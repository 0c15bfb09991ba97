package model

import (
	"regexp"
	"strings"
	"time"
)

var identifierPattern = regexp.MustCompile(`^\d{4}$`)

// Identifier is a listed company's stock code, e.g. "2330".
type Identifier string

// Valid reports whether the identifier has the canonical four digit form.
// Non-canonical identifiers are still crawled; the site answers with "no data".
func (id Identifier) Valid() bool {
	return identifierPattern.MatchString(string(id))
}

func (id Identifier) String() string { return string(id) }

// ParseIdentifiers trims, drops blanks and removes duplicates while keeping
// the first occurrence of each identifier in input order.
func ParseIdentifiers(raw []string) []Identifier {
	seen := make(map[Identifier]bool, len(raw))
	out := make([]Identifier, 0, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			id := Identifier(strings.TrimSpace(part))
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// OutcomeStatus is the final state of one identifier's pass.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeAbsent    OutcomeStatus = "absent"
	OutcomeFailed    OutcomeStatus = "failed"
)

// StageStatus is the state a single report stage ended in.
type StageStatus string

const (
	StageReady  StageStatus = "ready"
	StageEmpty  StageStatus = "empty"
	StageFailed StageStatus = "failed"
)

// StageOutcome records what happened to one report stage.
type StageOutcome struct {
	Report    ReportType  `json:"report"`
	Status    StageStatus `json:"status"`
	Records   int         `json:"records"`
	Rows      int         `json:"rows"`
	Filings   int         `json:"filings"`
	Skipped   int         `json:"filings_skipped"`
	ErrKind   string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
	FilingErr string      `json:"filing_error,omitempty"`
}

// Outcome is the result of one identifier's pass through the pipeline.
type Outcome struct {
	StockID     Identifier     `json:"stock_id"`
	Status      OutcomeStatus  `json:"status"`
	FailedStage ReportType     `json:"failed_stage,omitempty"`
	ErrKind     string         `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Stages      []StageOutcome `json:"stages"`
	Combined    bool           `json:"combined_rebuilt"`
	Duration    time.Duration  `json:"duration_ns"`
}

// Resolve derives the outcome status from the stage outcomes. A single failed
// stage fails the identifier; all-empty stages mean the company has no data.
func (o *Outcome) Resolve() {
	allEmpty := len(o.Stages) > 0
	for _, s := range o.Stages {
		switch s.Status {
		case StageFailed:
			o.Status = OutcomeFailed
			if o.FailedStage == "" {
				o.FailedStage = s.Report
				o.ErrKind = s.ErrKind
				o.Error = s.Error
			}
			allEmpty = false
		case StageReady:
			allEmpty = false
		}
	}
	if o.Status == OutcomeFailed {
		return
	}
	if allEmpty {
		o.Status = OutcomeAbsent
		return
	}
	o.Status = OutcomeSucceeded
}

// FailedEntry names one failed identifier in a run summary.
type FailedEntry struct {
	StockID Identifier `json:"stock_id"`
	Stage   ReportType `json:"stage,omitempty"`
	ErrKind string     `json:"error_kind,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Summary is the end-of-run report of a batch.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Succeeded []Identifier  `json:"succeeded"`
	Absent    []Identifier  `json:"absent"`
	Failed    []FailedEntry `json:"failed"`
	Skipped   []Identifier  `json:"skipped,omitempty"`
	Aborted   bool          `json:"aborted"`
	Outcomes  []Outcome     `json:"outcomes"`
}

// Add files an outcome under its status.
func (s *Summary) Add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case OutcomeSucceeded:
		s.Succeeded = append(s.Succeeded, o.StockID)
	case OutcomeAbsent:
		s.Absent = append(s.Absent, o.StockID)
	default:
		s.Failed = append(s.Failed, FailedEntry{
			StockID: o.StockID,
			Stage:   o.FailedStage,
			ErrKind: o.ErrKind,
			Error:   o.Error,
		})
	}
}

// HasFailures reports whether the run should exit non-zero.
func (s *Summary) HasFailures() bool {
	return len(s.Failed) > 0 || s.Aborted
}
