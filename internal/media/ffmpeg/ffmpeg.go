// Package ffmpeg builds and runs the ffmpeg invocations used by the media
// stages: audio extraction, fixed-length segmentation, transcoding and
// faststart remuxing.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"mediaflow/internal/services"
)

// CommandRunner executes an external command. Tests substitute a fake.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Runner invokes ffmpeg.
type Runner struct {
	Binary string
	run    CommandRunner
}

// New returns a runner for the given binary ("ffmpeg" when empty).
func New(binary string) *Runner {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Runner{Binary: binary, run: execRunner}
}

// WithCommandRunner replaces command execution.
func (r *Runner) WithCommandRunner(run CommandRunner) *Runner {
	r.run = run
	return r
}

// TranscodeOptions selects the encoder for a transcode.
type TranscodeOptions struct {
	Encoder      string
	Quality      int
	Preset       string
	MaxHeight    int
	AudioBitrate string
}

// ExtractAudio writes the selected audio stream as PCM WAV.
func (r *Runner) ExtractAudio(ctx context.Context, source string, streamOrdinal, sampleRate, channels int, dest string) error {
	return r.exec(ctx, "extract audio", ExtractArgs(source, streamOrdinal, sampleRate, channels, dest))
}

// ExtractSegment cuts [start, start+duration) seconds from a WAV file.
func (r *Runner) ExtractSegment(ctx context.Context, source string, start, duration float64, dest string) error {
	if duration <= 0 {
		return services.Wrap(services.ErrValidation, "ffmpeg", "segment", fmt.Sprintf("invalid duration %g", duration), nil)
	}
	return r.exec(ctx, "segment audio", SegmentArgs(source, start, duration, dest))
}

// Transcode re-encodes video with the given settings and moves the index to
// the front of the file.
func (r *Runner) Transcode(ctx context.Context, source, dest string, opts TranscodeOptions) error {
	return r.exec(ctx, "transcode", TranscodeArgs(source, dest, opts))
}

// Remux copies all streams unchanged into an MP4 with faststart.
func (r *Runner) Remux(ctx context.Context, source, dest string) error {
	return r.exec(ctx, "remux", RemuxArgs(source, dest))
}

func (r *Runner) exec(ctx context.Context, op string, args []string) error {
	if err := r.run(ctx, r.Binary, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "ffmpeg", op, "", err)
	}
	return nil
}

// ExtractArgs builds the audio extraction arguments.
func ExtractArgs(source string, streamOrdinal, sampleRate, channels int, dest string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", source,
		"-map", fmt.Sprintf("0:a:%d", max(streamOrdinal, 0)),
		"-vn", "-sn", "-dn",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dest,
	}
}

// SegmentArgs builds the arguments for one transcription segment.
func SegmentArgs(source string, start, duration float64, dest string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", source,
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dest,
	}
}

// TranscodeArgs builds the compression arguments.
func TranscodeArgs(source, dest string, opts TranscodeOptions) []string {
	encoder := opts.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", source,
		"-map", "0:v:0", "-map", "0:a?",
		"-c:v", encoder,
	}
	if opts.Quality > 0 {
		args = append(args, qualityFlag(encoder), strconv.Itoa(opts.Quality))
	}
	if opts.Preset != "" {
		args = append(args, "-preset", opts.Preset)
	}
	if opts.MaxHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", opts.MaxHeight))
	}
	bitrate := opts.AudioBitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	args = append(args,
		"-c:a", "aac", "-b:a", bitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		dest,
	)
	return args
}

// RemuxArgs builds the stream-copy arguments.
func RemuxArgs(source, dest string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", source,
		"-map", "0",
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		dest,
	}
}

// qualityFlag returns the constant-quality flag for an encoder family.
func qualityFlag(encoder string) string {
	switch {
	case strings.Contains(encoder, "nvenc"):
		return "-cq"
	case strings.Contains(encoder, "vaapi"), strings.Contains(encoder, "qsv"):
		return "-global_quality"
	default:
		return "-crf"
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(strings.TrimSpace(string(output)), 800))
	}
	return nil
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
