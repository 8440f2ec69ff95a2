package audio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/fileutil"
	"mediaflow/internal/logging"
	mediaaudio "mediaflow/internal/media/audio"
	"mediaflow/internal/media/ffmpeg"
	"mediaflow/internal/media/ffprobe"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// Option customizes the audio handlers.
type Option func(*tools)

type tools struct {
	ffmpeg *ffmpeg.Runner
	probe  ffprobe.Prober
}

// WithRunner replaces the ffmpeg runner.
func WithRunner(r *ffmpeg.Runner) Option {
	return func(t *tools) { t.ffmpeg = r }
}

// WithProber replaces the ffprobe inspector.
func WithProber(p ffprobe.Prober) Option {
	return func(t *tools) { t.probe = p }
}

func newTools(cfg *config.Config, opts []Option) tools {
	t := tools{
		ffmpeg: ffmpeg.New(cfg.FFmpegBinary()),
		probe:  ffprobe.NewProber(cfg.FFprobeBinary()),
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// Extractor runs extract-audio jobs.
type Extractor struct {
	cfg    *config.Config
	tools  tools
	logger *slog.Logger
}

// NewExtractor builds the extract-audio handler.
func NewExtractor(cfg *config.Config, logger *slog.Logger, opts ...Option) *Extractor {
	return &Extractor{
		cfg:    cfg,
		tools:  newTools(cfg, opts),
		logger: logging.NewComponentLogger(logger, "audio-extract"),
	}
}

// Stage implements stage.Handler.
func (e *Extractor) Stage() pipeline.Stage { return pipeline.StageExtractAudio }

// SetLogger implements stage.LoggerAware.
func (e *Extractor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "audio-extract")
}

// Run extracts the selected speech track into req.OutputRef.
func (e *Extractor) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	source := strings.TrimSpace(req.InputRef)
	dest := strings.TrimSpace(req.OutputRef)
	if source == "" || dest == "" {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "extract-audio", "request", "input and output paths are required", nil)
	}
	if _, err := os.Stat(source); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "extract-audio", "stat source", "original upload is not readable", err)
	}

	probe, err := e.tools.probe(ctx, source)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, "extract-audio", "probe source", "", err)
	}
	selection, ok := mediaaudio.Select(probe.AudioStreams(), e.cfg.Transcription.Language)
	if !ok {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "extract-audio", "select track", "source has no audio stream", nil)
	}
	e.logger.Info("audio track selected",
		logging.String(logging.FieldEventType, "audio_track_selected"),
		logging.Int("ordinal", selection.Ordinal),
		logging.String("track", selection.Label()),
	)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "extract-audio", "prepare staging", "", err)
	}
	tmp := fileutil.TempPath(dest)
	defer os.Remove(tmp)
	if err := e.tools.ffmpeg.ExtractAudio(ctx, source, selection.Ordinal, e.cfg.Audio.SampleRate, e.cfg.Audio.Channels, tmp); err != nil {
		return pipeline.Result{}, err
	}

	out, err := e.tools.probe(ctx, tmp)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, "extract-audio", "probe output", "", err)
	}
	duration := out.DurationSeconds()
	if !(duration > 0) {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "extract-audio", "verify output", "extracted audio has zero duration", nil)
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "extract-audio", "stat output", "", err)
	}
	if err := fileutil.Publish(tmp, dest); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "extract-audio", "publish", "", err)
	}
	return pipeline.Result{
		Stage: pipeline.StageExtractAudio,
		Audio: &pipeline.AudioResult{Path: dest, Size: info.Size(), Duration: duration},
	}, nil
}

// HealthCheck implements stage.Handler.
func (e *Extractor) HealthCheck(context.Context) stage.Health {
	return stage.RequireBinaries(string(pipeline.StageExtractAudio), e.cfg.FFmpegBinary(), e.cfg.FFprobeBinary())
}
