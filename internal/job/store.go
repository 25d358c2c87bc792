package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when the unit queue is full
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned by NextUnit once the queue is closed and drained
	ErrQueueClosed = errors.New("queue is closed")
	// ErrUnitNotFound is returned for unknown unit ids
	ErrUnitNotFound = errors.New("unit not found")
	// ErrAlreadyFinished is returned when a unit already has an outcome
	ErrAlreadyFinished = errors.New("unit already finished")
)

// Store manages units in memory. It is the single place where outcomes are
// recorded, so the tally always agrees with unit states.
type Store struct {
	mu      sync.RWMutex
	units   map[string]*Unit
	order   []string
	queue   chan *Unit
	closed  bool
	cancels map[string]context.CancelFunc
	tally   Tally
}

// NewStore creates a store whose queue holds up to capacity units
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		units:   make(map[string]*Unit),
		queue:   make(chan *Unit, capacity),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Add registers a unit and enqueues it. The unit is visible through Get
// before any worker can receive it.
// Returns ErrQueueFull if the queue is full (unit is not created).
func (s *Store) Add(u *Unit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrQueueClosed
	}

	u.ID = uuid.New().String()
	u.Status = StatusPending
	u.CreatedAt = time.Now()

	select {
	case s.queue <- u:
	default:
		return "", ErrQueueFull
	}

	s.units[u.ID] = u
	s.order = append(s.order, u.ID)
	s.tally.TotalUnits++
	return u.ID, nil
}

// Close stops accepting units. Queued units can still be received.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// NextUnit returns the next queued unit (blocking).
// Returns ErrQueueClosed once the store is closed and the queue is drained.
func (s *Store) NextUnit(ctx context.Context) (Unit, error) {
	select {
	case u, ok := <-s.queue:
		if !ok {
			return Unit{}, ErrQueueClosed
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		return u.snapshot(), nil
	case <-ctx.Done():
		return Unit{}, ctx.Err()
	}
}

// Get returns a snapshot of a unit
func (s *Store) Get(id string) (Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return u.snapshot(), nil
}

// List returns snapshots of all units in insertion order
func (s *Store) List() []Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Unit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.units[id].snapshot())
	}
	return out
}

// Tally returns the current aggregate counts
func (s *Store) Tally() Tally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tally
}

// MarkSubmitted records the remote prompt id of an accepted submission
func (s *Store) MarkSubmitted(id, promptID string, seeds map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	if u.Status.Terminal() {
		return fmt.Errorf("%w: %s (%s)", ErrAlreadyFinished, id, u.Status)
	}

	u.Status = StatusSubmitted
	u.PromptID = promptID
	u.Seeds = make(map[string]int64, len(seeds))
	for k, v := range seeds {
		u.Seeds[k] = v
	}
	now := time.Now()
	u.StartedAt = &now
	return nil
}

// Finish records the outcome of a unit and updates the tally.
// A unit accepts exactly one outcome; later calls return ErrAlreadyFinished.
func (s *Store) Finish(id string, outcome Outcome) (Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked(id, outcome)
}

func (s *Store) finishLocked(id string, outcome Outcome) (Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	if u.Status.Terminal() {
		return u.snapshot(), fmt.Errorf("%w: %s (%s)", ErrAlreadyFinished, id, u.Status)
	}

	u.Status = outcome.status()
	o := outcome
	u.Outcome = &o
	now := time.Now()
	u.FinishedAt = &now
	delete(s.cancels, id)

	if outcome.Succeeded() {
		s.tally.Completed++
	} else {
		s.tally.Failed++
		if outcome.Kind == OutcomeTimedOut {
			s.tally.TimedOut++
		}
	}
	return u.snapshot(), nil
}

// FinishPending finishes every unit that has no outcome yet and returns the
// finished snapshots
func (s *Store) FinishPending(outcome Outcome) []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []Unit
	for _, id := range s.order {
		if s.units[id].Status.Terminal() {
			continue
		}
		if u, err := s.finishLocked(id, outcome); err == nil {
			finished = append(finished, u)
		}
	}
	return finished
}

// SetCancel registers a cancel function for an in-flight unit.
// Returns ErrAlreadyFinished if the unit was finished (e.g. canceled while queued).
func (s *Store) SetCancel(id string, cf context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	if u.Status.Terminal() {
		return fmt.Errorf("%w: %s (%s)", ErrAlreadyFinished, id, u.Status)
	}

	s.cancels[id] = cf
	return nil
}

// ClearCancel removes the cancel function for a unit
func (s *Store) ClearCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancels, id)
}

// Cancel finishes a unit as Failed("canceled") and interrupts its worker if
// the unit is in flight
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	cf := s.cancels[id]
	_, err := s.finishLocked(id, Failed(ReasonCanceled))
	s.mu.Unlock()

	if err != nil {
		return err
	}

	// Call cancel function outside of lock
	if cf != nil {
		cf()
	}
	return nil
}
