package script

// HydrationStatus is the audio lifecycle state of a single line.
type HydrationStatus string

const (
	// StatusPending indicates the line entered a hydration run.
	StatusPending HydrationStatus = "pending"
	// StatusUpdating indicates the line's audio is being uploaded.
	StatusUpdating HydrationStatus = "updating"
	// StatusReady indicates the line has retrievable audio.
	StatusReady HydrationStatus = "ready"
	// StatusFailed indicates an unrecoverable step failed for the line.
	StatusFailed HydrationStatus = "failed"
)

// lineTransitions lists the allowed status changes. Terminal states only
// move back to pending when a new run or a retry explicitly picks the line up.
var lineTransitions = map[HydrationStatus][]HydrationStatus{
	"":             {StatusPending, StatusReady},
	StatusPending:  {StatusUpdating, StatusReady, StatusFailed},
	StatusUpdating: {StatusReady, StatusFailed},
	StatusReady:    {StatusPending},
	StatusFailed:   {StatusPending},
}

// IsTerminal returns true for ready and failed.
func (s HydrationStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// CanTransition reports whether a line may move from one status to another.
// Re-entering the same status is always allowed.
func CanTransition(from, to HydrationStatus) bool {
	if from == to {
		return true
	}
	for _, s := range lineTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
