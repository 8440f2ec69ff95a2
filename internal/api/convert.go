package api

import (
	"sort"
	"time"

	"mediaflow/internal/deps"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/stage"
)

// FromProcess converts a process record into its list view.
func FromProcess(p *process.Process) ProcessItem {
	if p == nil {
		return ProcessItem{}
	}
	return ProcessItem{
		ID:          p.ID,
		Tenant:      p.Tenant,
		Status:      string(p.Status),
		Percentage:  p.Progress.Percentage,
		CurrentStep: p.Progress.CurrentStep,
		StepDetails: p.Progress.StepDetails,
		MediaPath:   p.Files.Original.Path,
		Title:       p.Title,
		Errors:      len(p.ProcessingErrors),
		Corrupt:     len(p.Corrupt) > 0,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

// FromProcesses converts a slice of records.
func FromProcesses(processes []*process.Process) []ProcessItem {
	out := make([]ProcessItem, 0, len(processes))
	for _, p := range processes {
		if p == nil {
			continue
		}
		out = append(out, FromProcess(p))
	}
	return out
}

// FromJob converts a queue job.
func FromJob(job *queue.Job) QueueJob {
	if job == nil {
		return QueueJob{}
	}
	dto := QueueJob{
		ID:          job.ID,
		Stage:       string(job.Stage),
		ProcessID:   job.ProcessID,
		Unit:        job.Unit,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		RunAt:       formatTime(job.RunAt),
		UpdatedAt:   formatTime(job.UpdatedAt),
		DurationMS:  job.Duration().Milliseconds(),
		HasResult:   len(job.Result) > 0,
	}
	if job.LockedUntil != nil {
		dto.LockedUntil = formatTime(*job.LockedUntil)
	}
	return dto
}

// FromJobs converts a slice of jobs.
func FromJobs(jobs []*queue.Job) []QueueJob {
	out := make([]QueueJob, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// MergeQueueStats converts queue stats into string keys, filling every
// known status with zero so consumers see a stable shape.
func MergeQueueStats(stats map[pipeline.Stage]map[queue.Status]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(stats))
	for st, counts := range stats {
		row := map[string]int{
			string(queue.StatusPending):   0,
			string(queue.StatusRunning):   0,
			string(queue.StatusSucceeded): 0,
			string(queue.StatusFailed):    0,
		}
		for status, count := range counts {
			row[string(status)] = count
		}
		out[string(st)] = row
	}
	return out
}

// MergeProcessCounts converts per-status process counts into string keys.
func MergeProcessCounts(counts map[pipeline.Status]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, count := range counts {
		out[string(status)] = count
	}
	return out
}

// StageHealthSlice returns health records in stage name order.
func StageHealthSlice(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
