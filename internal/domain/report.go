package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceStatus is the terminal state of one source within a run.
type SourceStatus string

const (
	StatusCompleted SourceStatus = "completed"
	StatusAborted   SourceStatus = "aborted"
	StatusLocked    SourceStatus = "locked"
)

// SourceReport counts the outcome of every group of one source.
type SourceReport struct {
	Source    Category     `json:"source"`
	Status    SourceStatus `json:"status"`
	Groups    int          `json:"groups"`
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Error     string       `json:"error,omitempty"`
}

// Line renders the per-source summary line.
func (r SourceReport) Line() string {
	line := fmt.Sprintf("source=%s status=%s groups=%d processed=%d skipped=%d failed=%d",
		r.Source, r.Status, r.Groups, r.Processed, r.Skipped, r.Failed)
	if r.Error != "" {
		line += " error=" + r.Error
	}
	return line
}

// RunReport aggregates all sources of a single invocation.
type RunReport struct {
	RunID      string         `json:"runId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Sources    []SourceReport `json:"sources"`
}

// Aborted reports whether any source hit a fatal read failure.
func (r RunReport) Aborted() bool {
	for _, s := range r.Sources {
		if s.Status == StatusAborted {
			return true
		}
	}
	return false
}

// String renders one line per source.
func (r RunReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", r.RunID)
	for _, s := range r.Sources {
		b.WriteString(s.Line())
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
