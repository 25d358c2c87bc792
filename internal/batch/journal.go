package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ryabkov82/comfy-batch/internal/job"
)

// Journal writes one newline-delimited JSON record per finished unit
type Journal struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJournal writes records to w
func NewJournal(w io.Writer) *Journal {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	j := &Journal{enc: enc}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// OpenJournal appends to the file at path, creating parent directories
func OpenJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return NewJournal(f), nil
}

type journalRecord struct {
	UnitID     string           `json:"unit_id"`
	Line       int              `json:"line"`
	JobType    string           `json:"job_type"`
	Repetition int              `json:"repetition"`
	Count      int              `json:"count"`
	PromptID   string           `json:"prompt_id,omitempty"`
	Seeds      map[string]int64 `json:"seeds,omitempty"`
	Outcome    job.OutcomeKind  `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	StartedAt  string           `json:"started_at,omitempty"`
	FinishedAt string           `json:"finished_at,omitempty"`
}

// Record appends the outcome of a finished unit
func (j *Journal) Record(u job.Unit) error {
	rec := journalRecord{
		UnitID:     u.ID,
		Line:       u.Line,
		JobType:    u.JobType,
		Repetition: u.Repetition,
		Count:      u.Count,
		PromptID:   u.PromptID,
		Seeds:      u.Seeds,
		StartedAt:  formatTime(u.StartedAt),
		FinishedAt: formatTime(u.FinishedAt),
	}
	if u.Outcome != nil {
		rec.Outcome = u.Outcome.Kind
		rec.Reason = u.Outcome.Reason
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(rec)
}

// Close closes the underlying file, if any
func (j *Journal) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
