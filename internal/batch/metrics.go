package batch

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timings tracks timing metrics for the stages of a unit
type Timings struct {
	mu sync.Mutex

	// Spec parsing (once per run)
	ParseTotal time.Duration
	ParseCount int64

	// Template resolution
	ResolveTotal time.Duration
	ResolveCount int64

	// Materialization
	MaterializeTotal time.Duration
	MaterializeCount int64

	// Waiting for the pacing limiter
	PacingTotal time.Duration
	PacingCount int64

	// Submit HTTP round trips, including failed attempts
	SubmitTotal time.Duration
	SubmitCount int64

	// Individual history requests
	PollRequestTotal time.Duration
	PollRequestCount int64

	// Whole poll loops, submit to terminal outcome
	PollWaitTotal time.Duration
	PollWaitCount int64

	SubmitAttempts int64
	SubmitRetries  int64
}

// NewTimings creates a new Timings instance
func NewTimings() *Timings {
	return &Timings{}
}

func (t *Timings) ObserveParse(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ParseTotal += duration
	t.ParseCount++
}

func (t *Timings) ObserveResolve(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ResolveTotal += duration
	t.ResolveCount++
}

func (t *Timings) ObserveMaterialize(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.MaterializeTotal += duration
	t.MaterializeCount++
}

func (t *Timings) ObservePacing(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PacingTotal += duration
	t.PacingCount++
}

// ObserveSubmit records one POST /prompt round trip
func (t *Timings) ObserveSubmit(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SubmitTotal += duration
	t.SubmitCount++
}

// ObservePollRequest records one GET /history round trip
func (t *Timings) ObservePollRequest(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PollRequestTotal += duration
	t.PollRequestCount++
}

func (t *Timings) ObservePollWait(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PollWaitTotal += duration
	t.PollWaitCount++
}

func (t *Timings) IncSubmitAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SubmitAttempts++
}

func (t *Timings) IncSubmitRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SubmitRetries++
}

// String returns a formatted summary of all timings
func (t *Timings) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	add := func(name string, total time.Duration, count int64) {
		if count == 0 {
			return
		}
		avg := total / time.Duration(count)
		parts = append(parts, fmt.Sprintf("%s: total=%v count=%d avg=%v", name, total, count, avg))
	}

	add("Parse", t.ParseTotal, t.ParseCount)
	add("Resolve", t.ResolveTotal, t.ResolveCount)
	add("Materialize", t.MaterializeTotal, t.MaterializeCount)
	add("Pacing", t.PacingTotal, t.PacingCount)
	add("Submit HTTP", t.SubmitTotal, t.SubmitCount)
	add("Poll HTTP", t.PollRequestTotal, t.PollRequestCount)
	add("Poll wait", t.PollWaitTotal, t.PollWaitCount)

	if t.SubmitAttempts > 0 {
		parts = append(parts, fmt.Sprintf("Submit attempts=%d retries=%d", t.SubmitAttempts, t.SubmitRetries))
	}

	if len(parts) == 0 {
		return "No timings recorded"
	}
	return strings.Join(parts, "; ")
}
