package model

import "time"

// SyncStatus is the state of one pipeline run.
type SyncStatus string

const (
	SyncStatusRunning  SyncStatus = "running"
	SyncStatusComplete SyncStatus = "complete"
	SyncStatusFailed   SyncStatus = "failed"
)

// SyncCounters summarizes what one pipeline run did. The pipeline's
// definition of success is "N of M records applied", not all-or-nothing.
type SyncCounters struct {
	Records   int `json:"records"`   // source records consumed
	Created   int `json:"created"`   // new facilities inserted
	Updated   int `json:"updated"`   // existing facilities changed
	Unchanged int `json:"unchanged"` // merge produced no diff
	Ambiguous int `json:"ambiguous"` // resolution refused, record skipped
	Failed    int `json:"failed"`    // per-record upsert failures
	Warnings  int `json:"warnings"`  // field parse warnings
}

// SyncRun is one row in the sync log.
type SyncRun struct {
	ID          string       `json:"id"`
	Sources     []string     `json:"sources"`
	Status      SyncStatus   `json:"status"`
	Counters    SyncCounters `json:"counters"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
