package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"mediaflow/internal/config"
	"mediaflow/internal/fileutil"
	"mediaflow/internal/logging"
	"mediaflow/internal/media/ffmpeg"
	"mediaflow/internal/media/ffprobe"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// FreeSpaceFunc reports the bytes available to unprivileged writers under path.
type FreeSpaceFunc func(path string) (uint64, error)

// Handler runs compress-video jobs.
type Handler struct {
	cfg       *config.Config
	ffmpeg    *ffmpeg.Runner
	probe     ffprobe.Prober
	freeSpace FreeSpaceFunc
	logger    *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithRunner replaces the ffmpeg runner.
func WithRunner(r *ffmpeg.Runner) Option {
	return func(h *Handler) { h.ffmpeg = r }
}

// WithProber replaces the ffprobe inspector.
func WithProber(p ffprobe.Prober) Option {
	return func(h *Handler) { h.probe = p }
}

// WithFreeSpace replaces the disk space probe.
func WithFreeSpace(fn FreeSpaceFunc) Option {
	return func(h *Handler) { h.freeSpace = fn }
}

// NewHandler builds the compress-video handler.
func NewHandler(cfg *config.Config, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		cfg:       cfg,
		ffmpeg:    ffmpeg.New(cfg.FFmpegBinary()),
		probe:     ffprobe.NewProber(cfg.FFprobeBinary()),
		freeSpace: statfsFree,
		logger:    logging.NewComponentLogger(logger, "transcode"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stage implements stage.Handler.
func (h *Handler) Stage() pipeline.Stage { return pipeline.StageCompressVideo }

// SetLogger implements stage.LoggerAware.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, "transcode")
}

// Run compresses req.InputRef into req.OutputRef.
func (h *Handler) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	source := strings.TrimSpace(req.InputRef)
	dest := strings.TrimSpace(req.OutputRef)
	if source == "" || dest == "" {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "compress-video", "request", "input and output paths are required", nil)
	}
	info, err := os.Stat(source)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "compress-video", "stat source", "original upload is not readable", err)
	}
	sourceSize := info.Size()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "compress-video", "prepare staging", "", err)
	}
	if err := h.preflight(filepath.Dir(dest), sourceSize); err != nil {
		return pipeline.Result{}, err
	}

	plan := Choose(h.cfg.Compression, sourceSize)
	h.logger.Info("compression plan selected",
		logging.String(logging.FieldEventType, "compression_plan"),
		logging.String("action", plan.Action),
		logging.String("reason", plan.Reason),
		logging.Int64("source_bytes", sourceSize),
	)

	tmp := fileutil.TempPath(dest)
	defer os.Remove(tmp)
	if plan.Action == pipeline.VideoActionCopy {
		err = h.ffmpeg.Remux(ctx, source, tmp)
	} else {
		err = h.ffmpeg.Transcode(ctx, source, tmp, ffmpeg.TranscodeOptions{
			Encoder:      plan.Tier.Encoder,
			Quality:      plan.Tier.Quality,
			Preset:       plan.Tier.Preset,
			MaxHeight:    plan.Tier.MaxHeight,
			AudioBitrate: h.cfg.Compression.AudioBitrate,
		})
	}
	if err != nil {
		return pipeline.Result{}, err
	}

	probe, err := h.probe(ctx, tmp)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, "compress-video", "probe output", "", err)
	}
	video, ok := probe.PrimaryVideo()
	if !ok {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "compress-video", "probe output", "output has no video stream", nil)
	}
	outInfo, err := os.Stat(tmp)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "compress-video", "stat output", "", err)
	}
	if outInfo.Size() == 0 {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, "compress-video", "verify output", "ffmpeg produced an empty file", nil)
	}
	if err := fileutil.Publish(tmp, dest); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "compress-video", "publish", "", err)
	}

	result := &pipeline.VideoResult{
		Path:       dest,
		Size:       outInfo.Size(),
		Duration:   probe.DurationSeconds(),
		Width:      video.Width,
		Height:     video.Height,
		Action:     plan.Action,
		Decision:   plan.Reason,
		SourceSize: sourceSize,
	}
	if plan.Action == pipeline.VideoActionTranscode {
		result.Encoder = plan.Tier.Encoder
		result.Quality = plan.Tier.Quality
	}
	return pipeline.Result{Stage: pipeline.StageCompressVideo, Video: result}, nil
}

// preflight requires room for a full-size copy of the source plus the
// configured reserve.
func (h *Handler) preflight(dir string, sourceSize int64) error {
	if h.freeSpace == nil {
		return nil
	}
	free, err := h.freeSpace(dir)
	if err != nil {
		h.logger.Warn("staging free space unavailable; skipping preflight",
			logging.String(logging.FieldEventType, "disk_preflight_skipped"),
			logging.String(logging.FieldErrorHint, "check that the staging directory is mounted"),
			logging.Error(err),
		)
		return nil
	}
	need := uint64(sourceSize) + uint64(max(h.cfg.Compression.MinFreeSpaceMB, 0))*bytesPerMB
	if free < need {
		return services.Wrap(services.ErrTransient, "compress-video", "disk preflight",
			fmt.Sprintf("staging has %dMB free, need %dMB", free/bytesPerMB, need/bytesPerMB), nil)
	}
	return nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	name := string(pipeline.StageCompressVideo)
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(h.cfg.Paths.StagingDir) == "" {
		return stage.Unhealthy(name, "staging directory not configured")
	}
	return stage.RequireBinaries(name, h.cfg.FFmpegBinary(), h.cfg.FFprobeBinary())
}

func statfsFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
