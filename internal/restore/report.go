package restore

import "github.com/cxlinux/cx/internal/host"

// Status is the outcome of restoring one pane.
type Status string

const (
	// StatusRestored means the pane was created in its recorded directory.
	StatusRestored Status = "restored"
	// StatusDegraded means the pane was created in the fallback directory.
	StatusDegraded Status = "degraded"
	// StatusFailed means the pane could not be created.
	StatusFailed Status = "failed"
)

// PaneOutcome records what happened to one stored pane. Window, Tab and Leaf
// are 0-based; Leaf is the pane's position in the tab's leaf order.
type PaneOutcome struct {
	Window     int
	Tab        int
	Leaf       int
	Node       int
	WorkingDir string // recorded directory
	Dir        string // directory actually used
	Command    string
	Pane       host.PaneID
	Status     Status
	Reason     string
}

// Report summarizes a restore. It is returned even when some entities failed.
type Report struct {
	Snapshot string
	Windows  int // windows created
	Tabs     int // tabs created, including each window's first tab
	Panes    []PaneOutcome
	Warnings []string
	Failures []string
}

func (r *Report) count(s Status) int {
	n := 0
	for _, p := range r.Panes {
		if p.Status == s {
			n++
		}
	}
	return n
}

// Restored returns the number of panes created in their recorded directory.
func (r *Report) Restored() int { return r.count(StatusRestored) }

// Degraded returns the number of panes created in the fallback directory.
func (r *Report) Degraded() int { return r.count(StatusDegraded) }

// Failed returns the number of panes that could not be created.
func (r *Report) Failed() int { return r.count(StatusFailed) }

// Clean reports whether everything was restored without warnings.
func (r *Report) Clean() bool {
	return len(r.Warnings) == 0 && len(r.Failures) == 0 && r.Degraded() == 0 && r.Failed() == 0
}
