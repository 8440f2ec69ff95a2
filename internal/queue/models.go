package queue

import (
	"encoding/json"
	"time"

	"mediaflow/internal/pipeline"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one unit of stage work.
type Job struct {
	ID          string          `json:"id"`
	Stage       pipeline.Stage  `json:"stage"`
	ProcessID   string          `json:"processId"`
	Unit        int             `json:"unit"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// ExhaustedAttempts reports whether the job has no retry budget left.
func (j *Job) ExhaustedAttempts() bool {
	return j.Attempts >= j.MaxAttempts
}

// Duration returns the wall time of the last run, if finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// EnqueueRequest describes a job to insert. ID is chosen by the caller so the
// id can be recorded in the process ledger before the job exists.
type EnqueueRequest struct {
	ID          string
	Stage       pipeline.Stage
	ProcessID   string
	Unit        int
	Payload     json.RawMessage
	MaxAttempts int
	RunAt       time.Time
}

// ListFilter narrows List results.
type ListFilter struct {
	Stage     pipeline.Stage
	Statuses  []Status
	ProcessID string
	Limit     uint64
}

const jobColumns = "id, stage, process_id, unit, payload, status, attempts, max_attempts, run_at, locked_until, last_error, result, created_at, updated_at, started_at, finished_at"
