package domain

import (
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status values. JobStatusTimeout is only ever reported to a caller
// whose wait expired; it is never stored.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimeout    JobStatus = "timeout"
)

// Terminal reports whether no further transition can happen
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one "fetch all records for this identifier" unit of work.
// Values handed out by the dispatcher are copies.
type Job struct {
	ID         string    `json:"job_id"`
	Identifier string    `json:"identifier"`
	Status     JobStatus `json:"status"`

	// Position is the 0-based index in the pending queue, set only while queued.
	Position *int `json:"position,omitempty"`

	QueuedAt            time.Time  `json:"queued_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`

	AssignedSlot *int   `json:"assigned_slot,omitempty"`
	SessionID    string `json:"session_id,omitempty"`

	Profile      session.Profile  `json:"profile,omitempty"`
	Records      []session.Record `json:"records,omitempty"`
	RecordCount  int              `json:"record_count"`
	RecordErrors int              `json:"record_errors"`
	Error        string           `json:"error,omitempty"`
}

// Outcome is what a worker reports back after executing a job
type Outcome struct {
	Profile      session.Profile
	Records      []session.Record
	RecordErrors int
	Err          error
}
