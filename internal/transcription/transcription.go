// Package transcription implements the transcribe-segment stage on top of
// the WhisperX service.
package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/services/whisperx"
	"mediaflow/internal/stage"
)

// Transcriber is the subset of the WhisperX service the handler needs.
type Transcriber interface {
	TranscribeFile(ctx context.Context, source, outputDir, language string) (whisperx.TranscribeResult, error)
	Model() string
}

// Handler runs transcribe-segment jobs.
type Handler struct {
	cfg     *config.Config
	service Transcriber
	logger  *slog.Logger
}

// NewHandler builds the handler. A nil service uses WhisperX configured
// from cfg.Transcription.
func NewHandler(cfg *config.Config, service Transcriber, logger *slog.Logger) *Handler {
	if service == nil {
		service = whisperx.NewService(whisperx.Config{
			Model:       cfg.Transcription.Model,
			CUDAEnabled: cfg.Transcription.CUDAEnabled,
			VADMethod:   cfg.Transcription.VADMethod,
			HFToken:     cfg.Transcription.HuggingFace,
		})
	}
	return &Handler{cfg: cfg, service: service, logger: logging.NewComponentLogger(logger, "transcription")}
}

// Stage implements stage.Handler.
func (h *Handler) Stage() pipeline.Stage { return pipeline.StageTranscribeSegment }

// SetLogger implements stage.LoggerAware.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, "transcription")
}

// Run transcribes the segment named in req.Options.Segment. Timestamps in
// the result are relative to the full recording.
func (h *Handler) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	seg := req.Options.Segment
	if seg == nil {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "transcribe-segment", "request", "segment descriptor missing", nil)
	}
	source := strings.TrimSpace(req.InputRef)
	if source == "" {
		source = seg.Path
	}
	outDir := strings.TrimSpace(req.OutputRef)
	if outDir == "" {
		outDir = filepath.Dir(source)
	}
	outDir = filepath.Join(outDir, fmt.Sprintf("segment-%03d", seg.Index))

	res, err := h.service.TranscribeFile(ctx, source, outDir, h.cfg.Transcription.Language)
	if err != nil {
		return pipeline.Result{}, err
	}
	h.logger.Info("segment transcribed",
		logging.String(logging.FieldEventType, "segment_transcribed"),
		logging.Int("segment", seg.Index),
		logging.Int("sentences", len(res.Segments)),
		logging.String("model", h.service.Model()),
	)
	return pipeline.Result{
		Stage: pipeline.StageTranscribeSegment,
		Transcript: &pipeline.SegmentTranscript{
			Index: seg.Index,
			Text:  res.Text,
			Start: seg.Start,
			End:   seg.End,
		},
	}, nil
}

// HealthCheck implements stage.Handler.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	name := string(pipeline.StageTranscribeSegment)
	if _, err := exec.LookPath(whisperx.UVXCommand); err != nil {
		return stage.Unhealthy(name, "uvx not found")
	}
	return stage.Healthy(name)
}
