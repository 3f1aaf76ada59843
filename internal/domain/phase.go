package domain

// Phase is the lifecycle position of a download as last reported by the daemon.
type Phase string

const (
	PhaseActive    Phase = "active"
	PhaseWaiting   Phase = "waiting"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
	PhaseRemoved   Phase = "removed"
)

// Stopped reports whether the daemon no longer schedules the download.
func (p Phase) Stopped() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseRemoved:
		return true
	}
	return false
}

// Tab returns the display group a phase belongs to.
func (p Phase) Tab() Tab {
	switch p {
	case PhaseActive:
		return TabActive
	case PhaseWaiting, PhasePaused:
		return TabQueue
	default:
		return TabCompleted
	}
}

// Tab is a display grouping of phases.
type Tab int

const (
	TabActive Tab = iota
	TabQueue
	TabCompleted
)

// Tabs lists every tab in display order.
var Tabs = []Tab{TabActive, TabQueue, TabCompleted}

func (t Tab) String() string {
	switch t {
	case TabActive:
		return "active"
	case TabQueue:
		return "queue"
	case TabCompleted:
		return "completed"
	}
	return "unknown"
}

// ParseTab maps a tab name back to its value.
func ParseTab(s string) (Tab, bool) {
	for _, t := range Tabs {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Origin records which component last wrote a download's phase.
type Origin int

const (
	OriginReconciled Origin = iota
	OriginOptimistic
)

func (o Origin) String() string {
	if o == OriginOptimistic {
		return "optimistic"
	}
	return "reconciled"
}
