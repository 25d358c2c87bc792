package job

import (
	"time"
)

// Status represents the status of a unit
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// OutcomeKind is the terminal result class of a unit
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeTimedOut  OutcomeKind = "timed_out"
)

// ReasonCanceled is the failure reason for units stopped by cancellation
const ReasonCanceled = "canceled"

// Outcome is the terminal result of a unit
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Completed returns a successful outcome
func Completed() Outcome {
	return Outcome{Kind: OutcomeCompleted}
}

// Failed returns a failed outcome with a diagnostic reason
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// TimedOut returns the outcome of a unit that did not resolve within its
// deadline. It counts as a failure.
func TimedOut() Outcome {
	return Outcome{Kind: OutcomeTimedOut, Reason: "timed out waiting for completion"}
}

// Succeeded reports whether the outcome is Completed
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeCompleted
}

func (o Outcome) status() Status {
	switch o.Kind {
	case OutcomeCompleted:
		return StatusCompleted
	case OutcomeTimedOut:
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Reason
}

// Unit is one submission: a (entry, job type, repetition) triple
type Unit struct {
	ID         string           `json:"id"`
	Line       int              `json:"line"`
	JobType    string           `json:"job_type"`
	Repetition int              `json:"repetition"`
	Count      int              `json:"count"`
	Text       string           `json:"text"`
	Status     Status           `json:"status"`
	PromptID   string           `json:"prompt_id,omitempty"`
	Seeds      map[string]int64 `json:"seeds,omitempty"`
	Outcome    *Outcome         `json:"outcome,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func (u *Unit) snapshot() Unit {
	c := *u
	if u.Seeds != nil {
		c.Seeds = make(map[string]int64, len(u.Seeds))
		for k, v := range u.Seeds {
			c.Seeds[k] = v
		}
	}
	if u.Outcome != nil {
		o := *u.Outcome
		c.Outcome = &o
	}
	return c
}

// Tally aggregates unit outcomes. TimedOut is a subset of Failed.
type Tally struct {
	TotalUnits int `json:"total_units"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	TimedOut   int `json:"timed_out"`
}

// Pending is the number of units without an outcome yet
func (t Tally) Pending() int {
	return t.TotalUnits - t.Completed - t.Failed
}
