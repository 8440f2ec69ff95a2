package api

import (
	"encoding/json"

	"mediaflow/internal/process"
	"mediaflow/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest registers a media file.
type SubmitRequest struct {
	MediaPath     string `json:"mediaPath"`
	Tenant        string `json:"tenant,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// SubmitResponse returns the new process id and initial status.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ProcessItem describes a process in list output.
type ProcessItem struct {
	ID          string  `json:"id"`
	Tenant      string  `json:"tenant,omitempty"`
	Status      string  `json:"status"`
	Percentage  float64 `json:"percentage"`
	CurrentStep string  `json:"currentStep,omitempty"`
	StepDetails string  `json:"stepDetails,omitempty"`
	MediaPath   string  `json:"mediaPath"`
	Title       string  `json:"title,omitempty"`
	Errors      int     `json:"errors"`
	Corrupt     bool    `json:"corrupt,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

// ProcessListResponse wraps a list of processes.
type ProcessListResponse struct {
	Items []ProcessItem `json:"items"`
}

// StatusResponse is the polling view of one process.
type StatusResponse = workflow.StatusView

// ForceAdvanceRequest re-runs a stage, or records it as succeeded when
// Result is supplied.
type ForceAdvanceRequest struct {
	Stage  string          `json:"stage"`
	Result json.RawMessage `json:"result,omitempty"`
	Actor  string          `json:"actor,omitempty"`
}

// ForceCompleteRequest names the operator forcing completion.
type ForceCompleteRequest struct {
	Actor string `json:"actor,omitempty"`
}

// RepairRequest names the operator running the corruption migration.
type RepairRequest struct {
	Actor string `json:"actor,omitempty"`
}

// RepairResponse lists the fields the migration rewrote.
type RepairResponse struct {
	ID      string           `json:"id"`
	Repairs []process.Repair `json:"repairs"`
}

// QueueJob describes a stage job in a transport-friendly format.
type QueueJob struct {
	ID          string `json:"id"`
	Stage       string `json:"stage"`
	ProcessID   string `json:"processId"`
	Unit        int    `json:"unit"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	LastError   string `json:"lastError,omitempty"`
	RunAt       string `json:"runAt,omitempty"`
	LockedUntil string `json:"lockedUntil,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
	DurationMS  int64  `json:"durationMs,omitempty"`
	HasResult   bool   `json:"hasResult"`
}

// QueueListResponse wraps a collection of jobs.
type QueueListResponse struct {
	Items []QueueJob `json:"items"`
}

// QueueStatsResponse provides job counts keyed by stage then status.
type QueueStatsResponse struct {
	Counts map[string]map[string]int `json:"counts"`
}

// StageHealth mirrors readiness reporting for stage handlers.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// WorkerStatus summarizes the pool topology of this instance.
type WorkerStatus struct {
	Running          bool     `json:"running"`
	Stages           []string `json:"stages"`
	HeavyConcurrency int      `json:"heavyConcurrency"`
	LightConcurrency int      `json:"lightConcurrency"`
	HeavyIsolation   string   `json:"heavyIsolation"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool                      `json:"running"`
	PID          int                       `json:"pid"`
	DatabasePath string                    `json:"databasePath"`
	LockFilePath string                    `json:"lockFilePath"`
	Workers      WorkerStatus              `json:"workers"`
	Processes    map[string]int            `json:"processes"`
	Queue        map[string]map[string]int `json:"queue"`
	StageHealth  []StageHealth             `json:"stageHealth"`
	Dependencies []DependencyStatus        `json:"dependencies"`
}
