package store

import "time"

// Event actions recorded in snapshot_events.
const (
	ActionSave    = "save"
	ActionDelete  = "delete"
	ActionMigrate = "migrate"
)

// Event is one entry of the snapshot log.
type Event struct {
	ID        int64
	Snapshot  string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// Issue kinds recorded for a restore run.
const (
	IssueWarning = "warning"
	IssueFailure = "failure"
)

// Issue is a warning or failure reported by a restore.
type Issue struct {
	Kind    string
	Message string
}

// RestoreRun is the recorded outcome of one restore.
type RestoreRun struct {
	ID         string
	Snapshot   string
	StartedAt  time.Time
	FinishedAt time.Time
	Windows    int
	Tabs       int
	Restored   int
	Degraded   int
	Failed     int
	Issues     []Issue
}
