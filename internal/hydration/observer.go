package hydration

import (
	"sync"

	"github.com/maauso/scenepartner-api/internal/script"
)

// Observer receives status and progress events during a run.
type Observer interface {
	// OnStatus reports a line's new hydration status.
	OnStatus(lineIndex int, status script.HydrationStatus)
	// OnProgress reports overall progress as a percentage (0-100).
	OnProgress(percent int)
	// OnStageMessage reports a human-readable description of the current stage.
	OnStageMessage(msg string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnStatus(int, script.HydrationStatus) {}
func (NopObserver) OnProgress(int)                       {}
func (NopObserver) OnStageMessage(string)                {}

// lockedObserver serializes calls so observers never see concurrent events
// from the upload workers.
type lockedObserver struct {
	mu sync.Mutex
	o  Observer
}

func newLockedObserver(o Observer) *lockedObserver {
	if o == nil {
		o = NopObserver{}
	}
	return &lockedObserver{o: o}
}

func (l *lockedObserver) OnStatus(lineIndex int, status script.HydrationStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.o.OnStatus(lineIndex, status)
}

func (l *lockedObserver) OnProgress(percent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.o.OnProgress(percent)
}

func (l *lockedObserver) OnStageMessage(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.o.OnStageMessage(msg)
}
