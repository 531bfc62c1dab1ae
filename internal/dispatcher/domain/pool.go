package domain

import (
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
)

// SlotStatus is a point-in-time copy of one pool slot
type SlotStatus struct {
	Index                 int        `json:"id"`
	SessionID             string     `json:"session_id"`
	Busy                  bool       `json:"active"`
	Initialized           bool       `json:"initialized"`
	AccountsProcessed     int        `json:"accounts_processed"`
	AccountsUntilRotation int        `json:"accounts_until_rotation"`
	CreatedAt             *time.Time `json:"created_at,omitempty"`
	UptimeSeconds         float64    `json:"uptime_seconds"`
	RequestCount          int        `json:"request_count"`
	SuccessfulRequests    int        `json:"successful_requests"`
	FailedRequests        int        `json:"failed_requests"`
	RecordErrors          int        `json:"record_errors"`
	SuccessRate           float64    `json:"success_rate"`
}

// JobCounts counts stored jobs by status
type JobCounts struct {
	Queued     int `json:"jobs_queued"`
	Processing int `json:"jobs_in_progress"`
	Completed  int `json:"jobs_completed"`
	Failed     int `json:"jobs_failed"`
}

// PoolStatus is the aggregate view returned by get-pool-status
type PoolStatus struct {
	QueueLength int          `json:"queue_length"`
	Slots       []SlotStatus `json:"sessions"`
	JobCounts
}

// InFlightJob describes a job currently running on a slot
type InFlightJob struct {
	JobID           string    `json:"job_id"`
	Identifier      string    `json:"identifier"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// SlotDetail is the get-slot-detail view
type SlotDetail struct {
	SlotStatus
	Session     *session.Info `json:"session,omitempty"`
	CurrentJobs []InFlightJob `json:"current_jobs"`
}

// RotateResult reports the identities involved in a forced rotation
type RotateResult struct {
	Slot         int    `json:"slot"`
	OldSessionID string `json:"old_session_id"`
	NewSessionID string `json:"new_session_id"`
}
