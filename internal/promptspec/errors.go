package promptspec

import (
	"errors"
	"fmt"
)

// ErrSpecFileNotFound is returned when the spec path does not name a readable file
var ErrSpecFileNotFound = errors.New("spec file not found")

// MalformedReason classifies why a bracketed line was rejected
type MalformedReason string

const (
	ReasonDelimiter  MalformedReason = "delimiter"
	ReasonNoWorkflow MalformedReason = "no_workflow"
	ReasonBadCount   MalformedReason = "bad_count"
	ReasonEmptyText  MalformedReason = "empty_text"
)

// MalformedLineError describes a bracketed line that could not be parsed.
// It never aborts parsing of the file.
type MalformedLineError struct {
	LineNumber int
	Line       string
	Reason     MalformedReason
	Err        error
}

func (e *MalformedLineError) Error() string {
	msg := fmt.Sprintf("line %d: malformed (%s)", e.LineNumber, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedLineError) Unwrap() error {
	return e.Err
}

func (r MalformedReason) describe() string {
	switch r {
	case ReasonDelimiter:
		return "expected exactly one ' ¥' delimiter"
	case ReasonNoWorkflow:
		return "no ∆{name}•count∆ group found"
	case ReasonBadCount:
		return "count is not a valid integer or exceeds the unit limit"
	case ReasonEmptyText:
		return "prompt text is empty"
	}
	return string(r)
}
