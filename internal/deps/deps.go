package deps

import (
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/services/whisperx"
)

// Requirement defines an external dependency mediaflow relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists the binaries the configured stages execute. A binary
// is optional when no stage active on this instance uses it.
func Requirements(cfg *config.Config) []Requirement {
	active := func(stages ...string) bool {
		if cfg == nil || len(cfg.Workers.Stages) == 0 {
			return true
		}
		return slices.ContainsFunc(stages, func(s string) bool { return slices.Contains(cfg.Workers.Stages, s) })
	}
	ffmpeg, ffprobe := "ffmpeg", "ffprobe"
	if cfg != nil {
		ffmpeg, ffprobe = cfg.FFmpegBinary(), cfg.FFprobeBinary()
	}
	media := active("compress-video", "extract-audio", "segment-audio")
	return []Requirement{
		{Name: "FFmpeg", Command: ffmpeg, Description: "Compresses video and extracts audio", Optional: !media},
		{Name: "FFprobe", Command: ffprobe, Description: "Inspects media streams and durations", Optional: !media},
		{Name: "uvx", Command: whisperx.UVXCommand, Description: "Runs WhisperX transcription", Optional: !active("transcribe-segment")},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
