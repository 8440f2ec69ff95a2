package process

import (
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"mediaflow/internal/pipeline"
)

// Process is the root entity for one submitted media file.
type Process struct {
	ID                string                         `json:"id"`
	Tenant            string                         `json:"tenant"`
	Status            pipeline.Status                `json:"status"`
	Progress          Progress                       `json:"progress"`
	Files             Files                          `json:"files"`
	Transcript        Transcript                     `json:"transcript"`
	Tags              []pipeline.Tag                 `json:"tags"`
	Title             string                         `json:"title"`
	TodoList          []string                       `json:"todoList"`
	Embedding         []float64                      `json:"embedding"`
	JobLedger         map[pipeline.Stage][]string    `json:"jobLedger"`
	Stages            map[pipeline.Stage]*StageState `json:"stages"`
	ProcessingErrors  []ErrorEntry                   `json:"processingErrors"`
	ProcessingHistory []HistoryEntry                 `json:"processingHistory"`
	CorrelationID     string                         `json:"correlationId,omitempty"`
	CreatedAt         time.Time                      `json:"createdAt"`
	UpdatedAt         time.Time                      `json:"updatedAt"`

	// Corrupt lists persisted fields that failed shape validation on read.
	// Corrupt records are read-only until repaired.
	Corrupt []string `json:"-"`
}

// Progress summarizes completion for external polling.
type Progress struct {
	Percentage             float64 `json:"percentage"`
	CurrentStep            string  `json:"currentStep"`
	StepDetails            string  `json:"stepDetails"`
	EstimatedTimeRemaining float64 `json:"estimatedTimeRemaining"`
}

// Files groups the original upload and derived artifacts.
type Files struct {
	Original  OriginalFile            `json:"original"`
	Processed ProcessedFile           `json:"processed"`
	Audio     *AudioFile              `json:"audio,omitempty"`
	Segments  []pipeline.AudioSegment `json:"segments,omitempty"`
}

// OriginalFile describes the submitted media.
type OriginalFile struct {
	Path       string  `json:"path"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
	Resolution string  `json:"resolution"`
}

// ProcessedFile describes the compressed output and where it is stored.
type ProcessedFile struct {
	Path           string `json:"path"`
	Size           int64  `json:"size,omitempty"`
	StorageType    string `json:"storageType"`
	RemoteLocation string `json:"remoteLocation,omitempty"`
}

// AudioFile describes the extracted audio track.
type AudioFile struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// Transcript holds per-segment text and the joined full text.
type Transcript struct {
	Segments []TranscriptSegment `json:"segments"`
	FullText string              `json:"fullText"`
}

// TranscriptSegment is one transcribed audio segment.
type TranscriptSegment struct {
	Index     int     `json:"index"`
	Text      string  `json:"text"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// StageStatus tracks a stage within one process.
type StageStatus string

const (
	StageIssued    StageStatus = "issued"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// StageState records per-stage bookkeeping used for joins and retries.
type StageState struct {
	Status      StageStatus `json:"status"`
	Attempts    int         `json:"attempts,omitempty"`
	Units       int         `json:"units,omitempty"`
	Done        []int       `json:"done,omitempty"`
	Active      []string    `json:"active,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
	IssuedAt    time.Time   `json:"issuedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// ErrorEntry is one processingErrors ledger line.
type ErrorEntry struct {
	Step      string         `json:"step"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryEntry is one processingHistory ledger line.
type HistoryEntry struct {
	Step       string    `json:"step"`
	Status     string    `json:"status"`
	Percentage float64   `json:"percentage"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// History statuses.
const (
	HistoryCreated   = "created"
	HistoryIssued    = "issued"
	HistoryProgress  = "progress"
	HistorySucceeded = "succeeded"
	HistoryFailed    = "failed"
	HistoryCompleted = "completed"
	HistoryRepaired  = "repaired"
	HistoryForced    = "forced"
	HistoryReset     = "reset"
	HistoryBlocked   = "blocked"
	HistoryLate      = "late_result"
)

var (
	// ErrEmbeddingAlreadySet rejects a second normal-path embedding write.
	ErrEmbeddingAlreadySet = errors.New("embedding already set")
	// ErrTerminal rejects normal-path mutation of a completed or failed process.
	ErrTerminal = errors.New("process is terminal")
)

// New initializes a process in the uploaded state with zero progress.
func New(id, tenant string, original OriginalFile, now time.Time) *Process {
	now = now.UTC()
	p := &Process{
		ID:        id,
		Tenant:    tenant,
		Status:    pipeline.StatusUploaded,
		Files:     Files{Original: original, Processed: ProcessedFile{StorageType: pipeline.StorageLocal}},
		JobLedger: map[pipeline.Stage][]string{},
		Stages:    map[pipeline.Stage]*StageState{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Progress.CurrentStep = string(pipeline.StatusUploaded)
	p.AppendHistory("submit", HistoryCreated, "", now)
	return p
}

// Stage returns the state for a stage, creating it when absent.
func (p *Process) Stage(stage pipeline.Stage) *StageState {
	if p.Stages == nil {
		p.Stages = map[pipeline.Stage]*StageState{}
	}
	state, ok := p.Stages[stage]
	if !ok {
		state = &StageState{}
		p.Stages[stage] = state
	}
	return state
}

// StageSucceeded reports whether the stage has a recorded success.
func (p *Process) StageSucceeded(stage pipeline.Stage) bool {
	state, ok := p.Stages[stage]
	return ok && state.Status == StageSucceeded
}

// StageIssued reports whether jobs were already issued for the stage.
func (p *Process) StageIssued(stage pipeline.Stage) bool {
	return len(p.JobLedger[stage]) > 0
}

// UnitDone reports whether a fan-out unit already completed.
func (s *StageState) UnitDone(index int) bool {
	return slices.Contains(s.Done, index)
}

// RecordIssue appends job ids to the ledger (append-only, duplicates
// ignored) and marks the stage issued. jobIDs are in unit order and become
// the stage's active issuance; earlier ids stay in the ledger.
func (p *Process) RecordIssue(stage pipeline.Stage, jobIDs []string, units int, now time.Time) {
	if p.JobLedger == nil {
		p.JobLedger = map[pipeline.Stage][]string{}
	}
	for _, id := range jobIDs {
		if !slices.Contains(p.JobLedger[stage], id) {
			p.JobLedger[stage] = append(p.JobLedger[stage], id)
		}
	}
	state := p.Stage(stage)
	state.Status = StageIssued
	state.Units = units
	state.Done = nil
	state.Active = slices.Clone(jobIDs)
	state.LastError = ""
	state.IssuedAt = now.UTC()
	state.CompletedAt = nil
	p.AppendHistory(stage.Step(), HistoryIssued, "", now)
}

// LedgerOwns reports whether jobID was issued for stage on this process.
func (p *Process) LedgerOwns(stage pipeline.Stage, jobID string) bool {
	return slices.Contains(p.JobLedger[stage], jobID)
}

// AddProgress advances the percentage by delta. Accumulation is monotonic and
// capped at 100.
func (p *Process) AddProgress(delta float64) {
	if delta <= 0 || math.IsNaN(delta) {
		return
	}
	next := math.Round((p.Progress.Percentage+delta)*100) / 100
	if next > 100 {
		next = 100
	}
	if next > p.Progress.Percentage {
		p.Progress.Percentage = next
	}
}

// RecomputeProgress rebuilds the percentage from recorded stage successes.
// It is used when an operator revives a failed process; the normal path only
// ever accumulates through AddProgress.
func (p *Process) RecomputeProgress(weights pipeline.Weights) {
	var total float64
	for stage, state := range p.Stages {
		switch {
		case state.Status == StageSucceeded:
			total += weights[stage]
		case len(state.Done) > 0:
			total += weights.Unit(stage, state.Units) * float64(len(state.Done))
		}
	}
	total = math.Round(total*100) / 100
	if total > 100 {
		total = 100
	}
	p.Progress.Percentage = total
}

// EstimateRemaining derives an ETA from elapsed time and completed share.
// It never feeds back into the percentage.
func (p *Process) EstimateRemaining(now time.Time) {
	pct := p.Progress.Percentage
	if pct <= 0 || pct >= 100 {
		p.Progress.EstimatedTimeRemaining = 0
		return
	}
	elapsed := now.Sub(p.CreatedAt).Seconds()
	if elapsed <= 0 {
		p.Progress.EstimatedTimeRemaining = 0
		return
	}
	p.Progress.EstimatedTimeRemaining = math.Round(elapsed * (100 - pct) / pct)
}

// AppendHistory writes one history entry with the current percentage.
func (p *Process) AppendHistory(step, status, errMsg string, now time.Time) {
	now = now.UTC()
	p.ProcessingHistory = append(p.ProcessingHistory, HistoryEntry{
		Step:       step,
		Status:     status,
		Percentage: p.Progress.Percentage,
		Timestamp:  now,
		Error:      errMsg,
	})
	p.UpdatedAt = now
}

// AppendError writes one error ledger entry.
func (p *Process) AppendError(entry ErrorEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	p.ProcessingErrors = append(p.ProcessingErrors, entry)
	p.UpdatedAt = entry.Timestamp
}

// Fail transitions to failed and applies the explicit failure reset of the
// percentage. Stage outputs already recorded are kept for diagnostics.
func (p *Process) Fail(step, message string, now time.Time) {
	p.Status = pipeline.StatusFailed
	p.Progress.Percentage = 0
	p.Progress.EstimatedTimeRemaining = 0
	p.Progress.CurrentStep = step
	p.Progress.StepDetails = message
	p.AppendHistory(step, HistoryFailed, message, now)
}

// Terminal reports whether the process reached completed or failed.
func (p *Process) Terminal() bool {
	return p.Status.Terminal()
}

// TranscriptText joins segment texts in index order.
func (p *Process) TranscriptText() string {
	segments := slices.Clone(p.Transcript.Segments)
	slices.SortFunc(segments, func(a, b TranscriptSegment) int { return a.Index - b.Index })
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Outstanding reports whether any issued stage has neither succeeded nor
// failed.
// The store indexes this so the reconciliation sweep can find records with
// unwritten results without scanning every document.
func (p *Process) Outstanding() bool {
	for stage, ids := range p.JobLedger {
		if len(ids) == 0 {
			continue
		}
		state, ok := p.Stages[stage]
		if !ok || state.Status == StageIssued {
			return true
		}
	}
	return false
}
