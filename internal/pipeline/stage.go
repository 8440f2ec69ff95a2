package pipeline

import "strings"

// Stage names one unit of pipeline work. The value doubles as the queue
// channel name.
type Stage string

const (
	StageCompressVideo     Stage = "compress-video"
	StageExtractAudio      Stage = "extract-audio"
	StageSegmentAudio      Stage = "segment-audio"
	StageTranscribeSegment Stage = "transcribe-segment"
	StageGenerateTags      Stage = "generate-tags"
	StageGenerateTitle     Stage = "generate-title"
	StageGenerateTodo      Stage = "generate-todo"
	StageGenerateEmbedding Stage = "generate-embedding"
	StageUploadRemote      Stage = "upload-remote"
	StageFinalize          Stage = "finalize"
)

// Step returns the machine-parseable step identifier written to the ledger
// (extract-audio becomes extract_audio).
func (s Stage) Step() string {
	return strings.ReplaceAll(string(s), "-", "_")
}

func (s Stage) String() string { return string(s) }

// ParseStage accepts either the stage name or its step identifier.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-"))
	for _, stage := range defaultOrder {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// Status is the coarse lifecycle state of a process.
type Status string

const (
	StatusUploaded        Status = "uploaded"
	StatusProcessingVideo Status = "processing_video"
	StatusSegmentingAudio Status = "segmenting_audio"
	StatusTranscribing    Status = "transcribing"
	StatusAnalyzing       Status = "analyzing"
	StatusUploadingRemote Status = "uploading_remote"
	StatusFinalizing      Status = "finalizing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether the status ends the normal lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses along the graph so callers can detect regressions.
func (s Status) Rank() int {
	switch s {
	case StatusUploaded:
		return 0
	case StatusProcessingVideo:
		return 1
	case StatusSegmentingAudio:
		return 2
	case StatusTranscribing:
		return 3
	case StatusAnalyzing:
		return 4
	case StatusUploadingRemote:
		return 5
	case StatusFinalizing:
		return 6
	case StatusCompleted:
		return 7
	default:
		return -1
	}
}

// Tier selects the worker isolation level for a stage.
type Tier string

const (
	// TierHeavy runs in an execution unit separate from orchestration.
	TierHeavy Tier = "heavy"
	// TierLight runs in-process with bounded concurrency.
	TierLight Tier = "light"
)
