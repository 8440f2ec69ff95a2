package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Result is the subset of `ffprobe -show_format -show_streams` output the
// stages read.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream is one container stream.
type Stream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Channels    int               `json:"channels"`
	Tags        map[string]string `json:"tags,omitempty"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

// Format carries container-level values, which ffprobe reports as strings.
type Format struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

// Prober inspects a media file. Stages take one so tests can substitute
// canned results.
type Prober func(ctx context.Context, path string) (Result, error)

// NewProber returns a Prober backed by the given ffprobe binary.
func NewProber(binary string) Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return func(ctx context.Context, path string) (Result, error) {
		if strings.TrimSpace(path) == "" {
			return Result{}, errors.New("ffprobe: empty path")
		}
		out, err := exec.CommandContext(ctx, binary,
			"-v", "error", "-hide_banner",
			"-show_format", "-show_streams",
			"-of", "json", "--", path,
		).Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return Result{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
			}
			return Result{}, fmt.Errorf("ffprobe %s: %w", path, err)
		}
		return Parse(out)
	}
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// AudioStreams returns the audio streams in container order.
func (r Result) AudioStreams() []Stream {
	var out []Stream
	for _, s := range r.Streams {
		if s.is("audio") {
			out = append(out, s)
		}
	}
	return out
}

// PrimaryVideo returns the first video stream with a frame size, skipping
// embedded cover art.
func (r Result) PrimaryVideo() (Stream, bool) {
	for _, s := range r.Streams {
		if s.is("video") && s.Width > 0 && !strings.EqualFold(s.CodecName, "mjpeg") {
			return s, true
		}
	}
	return Stream{}, false
}

// DurationSeconds is the container duration, or 0 when ffprobe did not
// report a usable value.
func (r Result) DurationSeconds() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || !(v > 0) {
		return 0
	}
	return v
}

// SizeBytes is the container size, or 0 when unknown.
func (r Result) SizeBytes() int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(r.Format.Size), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (s Stream) is(kind string) bool {
	return strings.EqualFold(s.CodecType, kind)
}
