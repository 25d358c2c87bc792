package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ryabkov82/comfy-batch/internal/job"
)

type fakeBatch struct {
	mu       sync.Mutex
	units    []job.Unit
	tally    job.Tally
	running  bool
	canceled []string
	stopped  bool
}

func (f *fakeBatch) Units() []job.Unit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]job.Unit(nil), f.units...)
}

func (f *fakeBatch) Unit(id string) (job.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.units {
		if u.ID == id {
			return u, nil
		}
	}
	return job.Unit{}, job.ErrUnitNotFound
}

func (f *fakeBatch) Tally() job.Tally {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tally
}

func (f *fakeBatch) CancelUnit(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range f.units {
		if u.ID != id {
			continue
		}
		if u.Status.Terminal() {
			return job.ErrAlreadyFinished
		}
		f.units[i].Status = job.StatusFailed
		f.canceled = append(f.canceled, id)
		return nil
	}
	return job.ErrUnitNotFound
}

func (f *fakeBatch) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false
	}
	f.stopped = true
	return true
}

func newFakeBatch() *fakeBatch {
	return &fakeBatch{
		units: []job.Unit{
			{ID: "u-1", Line: 1, JobType: "square", Repetition: 1, Count: 2, Text: "a cat", Status: job.StatusCompleted},
			{ID: "u-2", Line: 1, JobType: "square", Repetition: 2, Count: 2, Text: "a cat", Status: job.StatusSubmitted, PromptID: "p-2"},
			{ID: "u-3", Line: 2, JobType: "landscape", Repetition: 1, Count: 1, Text: "a dog", Status: job.StatusPending},
		},
		tally:   job.Tally{TotalUnits: 3, Completed: 1},
		running: true,
	}
}

func TestGetTally(t *testing.T) {
	handler := NewHandler(newFakeBatch(), nil)

	w := httptest.NewRecorder()
	handler.GetTally(w, httptest.NewRequest("GET", "/tally", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]int
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["total_units"] != 3 {
		t.Errorf("Expected total_units 3, got %d", response["total_units"])
	}
	if response["completed"] != 1 {
		t.Errorf("Expected completed 1, got %d", response["completed"])
	}
	if response["pending"] != 2 {
		t.Errorf("Expected pending 2, got %d", response["pending"])
	}
}

func TestListUnits(t *testing.T) {
	handler := NewHandler(newFakeBatch(), nil)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"completed", "?status=completed", 1},
		{"pending", "?status=pending", 1},
		{"none match", "?status=timed_out", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ListUnits(w, httptest.NewRequest("GET", "/units"+tt.query, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			var response struct {
				Count int        `json:"count"`
				Units []job.Unit `json:"units"`
			}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response.Count != tt.want || len(response.Units) != tt.want {
				t.Errorf("Expected %d units, got count=%d len=%d", tt.want, response.Count, len(response.Units))
			}
		})
	}
}

func TestGetUnit(t *testing.T) {
	handler := NewHandler(newFakeBatch(), nil)

	w := httptest.NewRecorder()
	handler.GetUnit(w, httptest.NewRequest("GET", "/units/u-2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var u job.Unit
	if err := json.NewDecoder(w.Body).Decode(&u); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if u.PromptID != "p-2" {
		t.Errorf("Expected prompt_id 'p-2', got '%s'", u.PromptID)
	}
	if u.Repetition != 2 {
		t.Errorf("Expected repetition 2, got %d", u.Repetition)
	}
}

func TestGetUnitNotFound(t *testing.T) {
	handler := NewHandler(newFakeBatch(), nil)

	w := httptest.NewRecorder()
	handler.GetUnit(w, httptest.NewRequest("GET", "/units/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCancelUnit(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"pending unit", "POST", "/units/u-3/cancel", http.StatusOK},
		{"submitted unit", "POST", "/units/u-2/cancel", http.StatusOK},
		{"finished unit", "POST", "/units/u-1/cancel", http.StatusConflict},
		{"unknown unit", "POST", "/units/nope/cancel", http.StatusNotFound},
		{"wrong method", "GET", "/units/u-3/cancel", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(newFakeBatch(), nil)

			w := httptest.NewRecorder()
			handler.CancelUnit(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d, body: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestCancelBatch(t *testing.T) {
	fb := newFakeBatch()
	handler := NewHandler(fb, nil)

	w := httptest.NewRecorder()
	handler.CancelBatch(w, httptest.NewRequest("POST", "/cancel", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	if !fb.stopped {
		t.Error("Expected batch to be canceled")
	}
}

func TestCancelBatchNotRunning(t *testing.T) {
	fb := newFakeBatch()
	fb.running = false
	handler := NewHandler(fb, nil)

	w := httptest.NewRecorder()
	handler.CancelBatch(w, httptest.NewRequest("POST", "/cancel", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestRouterDispatch(t *testing.T) {
	fb := newFakeBatch()
	router := SetupRouter(NewHandler(fb, nil), "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/units/u-3/cancel", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for cancel, got %d", w.Code)
	}
	if len(fb.canceled) != 1 || fb.canceled[0] != "u-3" {
		t.Errorf("Expected u-3 canceled, got %v", fb.canceled)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/units/u-3", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for get, got %d", w.Code)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
