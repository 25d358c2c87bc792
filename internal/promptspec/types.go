// Package promptspec parses prompt batch files written in the
// `[∆{jobType}•count∆ ¥prompt text¥]` line format.
package promptspec

import (
	"errors"
	"fmt"
)

// MaxBatchUnits caps the units one file may expand to. A count or a line
// that would push the file past it is rejected as ReasonBadCount.
const MaxBatchUnits = 100_000

// ErrTooManyUnits is returned when entries expand past MaxBatchUnits
var ErrTooManyUnits = errors.New("too many units")

// RatioSpec is one ∆{jobType}•count∆ group of a spec line
type RatioSpec struct {
	JobType string `json:"jobType"`
	Count   int    `json:"count"`
}

// RunEntry represents one well-formed spec line
type RunEntry struct {
	Text       string      `json:"text"`
	Ratios     []RatioSpec `json:"ratios"`
	LineNumber int         `json:"lineNumber"`
}

// Units returns the number of units of work the entry expands to
func (e RunEntry) Units() int {
	n := 0
	for _, r := range e.Ratios {
		n += r.Count
	}
	return n
}

// Result is the outcome of parsing a whole spec file
type Result struct {
	Entries   []RunEntry
	Malformed []*MalformedLineError
	LinesRead int
}

// TotalUnits sums every ratio count across entries. It fails with
// ErrTooManyUnits past MaxBatchUnits, before the sum can overflow.
func TotalUnits(entries []RunEntry) (int, error) {
	total := 0
	for _, e := range entries {
		for _, r := range e.Ratios {
			if r.Count < 0 || r.Count > MaxBatchUnits-total {
				return 0, fmt.Errorf("%w: line %d exceeds %d", ErrTooManyUnits, e.LineNumber, MaxBatchUnits)
			}
			total += r.Count
		}
	}
	return total, nil
}
