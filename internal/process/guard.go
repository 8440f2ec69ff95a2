package process

import (
	"strings"
	"time"

	"mediaflow/internal/pipeline"
)

// MissingForCompletion lists the fields that block the completed state. An
// empty result means the record may be marked completed.
func (p *Process) MissingForCompletion(titlePlaceholder string) []string {
	var missing []string
	if strings.TrimSpace(p.Transcript.FullText) == "" {
		missing = append(missing, "transcript.fullText")
	}
	if len(p.Tags) == 0 {
		missing = append(missing, "tags")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" || strings.EqualFold(title, strings.TrimSpace(titlePlaceholder)) {
		missing = append(missing, "title")
	}
	if len(p.TodoList) == 0 {
		missing = append(missing, "todoList")
	}
	if len(p.Embedding) == 0 {
		missing = append(missing, "embedding")
	}
	if p.Files.Processed.StorageType == pipeline.StorageRemote && strings.TrimSpace(p.Files.Processed.RemoteLocation) == "" {
		missing = append(missing, "files.processed.remoteLocation")
	}
	if len(p.Corrupt) > 0 {
		missing = append(missing, "corrupt:"+strings.Join(p.Corrupt, ","))
	}
	return missing
}

// MarkCompleted sets the terminal completed state. Callers must check
// MissingForCompletion first.
func (p *Process) MarkCompleted(step string, now time.Time) {
	p.Status = pipeline.StatusCompleted
	p.Progress.Percentage = 100
	p.Progress.EstimatedTimeRemaining = 0
	p.Progress.CurrentStep = string(pipeline.StatusCompleted)
	p.Progress.StepDetails = ""
	p.AppendHistory(step, HistoryCompleted, "", now)
}
