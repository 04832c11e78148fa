// Package hydration attaches synthesized audio to script lines. It batches
// the lines that need audio, synthesizes and aligns each batch, cuts the
// batch audio into per-line clips and uploads them.
package hydration

import (
	"errors"

	"github.com/maauso/scenepartner-api/internal/align"
	"github.com/maauso/scenepartner-api/internal/script"
)

// Static errors for hydration runs.
var (
	// ErrSynthesisFailed is returned when a batch could not be synthesized.
	ErrSynthesisFailed = errors.New("hydration: synthesis failed")
	// ErrAlignmentFailed is returned when a batch could not be aligned.
	ErrAlignmentFailed = errors.New("hydration: alignment failed")
	// ErrCancelled is returned when the context was cancelled between steps.
	ErrCancelled = errors.New("hydration: cancelled")
	// ErrLineNotFound is returned by RetryLine for an unknown line index.
	ErrLineNotFound = errors.New("hydration: line not found")
	// ErrNoVoice is returned when a line has no voice and no default is configured.
	ErrNoVoice = errors.New("hydration: no voice for line")
)

// Outcome labels used in logs and metrics.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeNoWork    = "no_work"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Request describes one hydration run.
type Request struct {
	// Key identifies the script for storage and persistence.
	Key script.Key
	// Lines is the script's full line collection.
	Lines []script.Line
	// UserCharacter is the character the user reads; their lines get no audio.
	UserCharacter string
	// Voices maps character names to voice IDs.
	Voices map[string]string
	// Force re-hydrates lines that already have audio.
	Force bool
}

// Result is the outcome of a run.
type Result struct {
	// Succeeded is true when every targeted line received audio.
	Succeeded bool
	// NoWork is true when no line needed audio.
	NoWork bool
	// FailedLines lists targeted lines without audio, ascending.
	FailedLines []int
	// Lines is the updated line collection in index order.
	Lines []script.Line
	// Timings holds the aligned span of every matched line.
	Timings align.TimingMap
}

// Outcome returns the outcome label for r.
func (r *Result) Outcome() string {
	switch {
	case r.NoWork:
		return OutcomeNoWork
	case r.Succeeded:
		return OutcomeCompleted
	default:
		return OutcomePartial
	}
}
