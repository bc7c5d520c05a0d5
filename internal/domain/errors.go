package domain

import "fmt"

// ServiceFailure reports a failed summarization call (transport, rate limit,
// timeout, malformed or empty response). The group stays unprocessed.
type ServiceFailure struct {
	Provider string
	Err      error
}

func (e *ServiceFailure) Error() string {
	return fmt.Sprintf("summarization service %s: %v", e.Provider, e.Err)
}

func (e *ServiceFailure) Unwrap() error { return e.Err }

// WriteFailure reports a failed knowledge append or completion mark.
type WriteFailure struct {
	Op  string
	Err error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// ReadFailure aborts the run of a single source.
type ReadFailure struct {
	Source Category
	Err    error
}

func (e *ReadFailure) Error() string {
	return fmt.Sprintf("read %s: %v", e.Source, e.Err)
}

func (e *ReadFailure) Unwrap() error { return e.Err }
