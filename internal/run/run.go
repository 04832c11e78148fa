// Package run provides the Run aggregate that tracks one hydration from
// start to outcome, plus repository interfaces for persistence.
package run

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/maauso/scenepartner-api/internal/run/id"
	"github.com/maauso/scenepartner-api/internal/script"
)

// Status represents the current state of a Run.
type Status string

const (
	// StatusRunning indicates batches are still being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every targeted line received audio.
	StatusCompleted Status = "COMPLETED"
	// StatusPartial indicates the run finished but some lines failed.
	StatusPartial Status = "PARTIAL"
	// StatusFailed indicates synthesis or alignment aborted the run.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the caller cancelled the run.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusRunning:   {StatusCompleted, StatusPartial, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusPartial:   {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Run represents one hydration of one script.
type Run struct {
	mu sync.RWMutex

	// ID is the unique identifier for this run.
	ID string
	// Key identifies the script being hydrated.
	Key script.Key
	// LineIndex is set for single-line retries, -1 otherwise.
	LineIndex int
	// Status is the current run state.
	Status Status
	// Progress is the percentage of completion (0-100). It never decreases.
	Progress int
	// Stage is the latest human-readable stage message.
	Stage string
	// Lines holds the last reported status per line index.
	Lines map[int]script.HydrationStatus
	// FailedLines lists lines that did not receive audio.
	FailedLines []int
	// Error contains the failure reason if the run failed.
	Error string
	// CreatedAt is when the run was created.
	CreatedAt time.Time
	// UpdatedAt is when the run was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Run for key with a generated ID in RUNNING state.
func New(key script.Key) *Run {
	return NewWithID(id.Generate(), key)
}

// NewWithID creates a new Run with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(runID string, key script.Key) *Run {
	now := time.Now()
	return &Run{
		ID:        runID,
		Key:       key,
		LineIndex: -1,
		Status:    StatusRunning,
		Lines:     make(map[int]script.HydrationStatus),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetLineStatus records the status reported for one line. Transitions the
// line lifecycle does not allow, such as ready back to updating, are ignored
// and reported as false.
func (r *Run) SetLineStatus(lineIndex int, status script.HydrationStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !script.CanTransition(r.Lines[lineIndex], status) {
		return false
	}
	r.Lines[lineIndex] = status
	r.UpdatedAt = time.Now()
	return true
}

// UpdateProgress raises the progress percentage, clamped to 0-100.
// Lower values than the current one are ignored.
func (r *Run) UpdateProgress(progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	progress = min(max(progress, 0), 100)
	if progress <= r.Progress {
		return
	}
	r.Progress = progress
	r.UpdatedAt = time.Now()
}

// SetStage sets the current stage message.
func (r *Run) SetStage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stage = msg
	r.UpdatedAt = time.Now()
}

// Finish moves the run to COMPLETED, or PARTIAL when failed is non-empty.
func (r *Run) Finish(failed []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := StatusCompleted
	if len(failed) > 0 {
		to = StatusPartial
	}
	if err := r.transition(to); err != nil {
		return err
	}
	r.FailedLines = slices.Clone(failed)
	return nil
}

// Fail transitions the run to FAILED with an error message.
func (r *Run) Fail(errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	r.Error = errMsg
	return nil
}

// Cancel transitions the run to CANCELLED.
func (r *Run) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(StatusCancelled)
}

// transition must be called with the lock held.
func (r *Run) transition(to Status) error {
	if !canTransition(r.Status, to) {
		return ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	r.CompletedAt = r.UpdatedAt
	return nil
}

// GetStatus returns the current run status (thread-safe).
func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// IsTerminal returns true if the run is in a terminal state.
func (r *Run) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status != StatusRunning
}

// Clone creates a deep copy of the run for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &Run{
		ID:          r.ID,
		Key:         r.Key,
		LineIndex:   r.LineIndex,
		Status:      r.Status,
		Progress:    r.Progress,
		Stage:       r.Stage,
		Lines:       maps.Clone(r.Lines),
		FailedLines: slices.Clone(r.FailedLines),
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}
