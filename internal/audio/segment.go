package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/fileutil"
	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// minTailSeconds folds a shorter trailing remainder into the previous segment.
const minTailSeconds = 1.0

// Span is one planned segment boundary.
type Span struct {
	Start float64
	End   float64
}

// PlanSegments splits duration into fixed-length spans. A duration at or
// below threshold yields a single span.
func PlanSegments(duration float64, segmentSeconds, thresholdSeconds int) ([]Span, error) {
	if !(duration > 0) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("audio duration %v is not positive", duration)
	}
	if segmentSeconds <= 0 || duration <= float64(thresholdSeconds) {
		return []Span{{Start: 0, End: duration}}, nil
	}
	length := float64(segmentSeconds)
	var spans []Span
	for start := 0.0; start < duration; start += length {
		end := math.Min(start+length, duration)
		if n := len(spans); n > 0 && end-start < minTailSeconds {
			spans[n-1].End = end
			break
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans, nil
}

// Segmenter runs segment-audio jobs.
type Segmenter struct {
	cfg    *config.Config
	tools  tools
	logger *slog.Logger
}

// NewSegmenter builds the segment-audio handler.
func NewSegmenter(cfg *config.Config, logger *slog.Logger, opts ...Option) *Segmenter {
	return &Segmenter{
		cfg:    cfg,
		tools:  newTools(cfg, opts),
		logger: logging.NewComponentLogger(logger, "audio-segment"),
	}
}

// Stage implements stage.Handler.
func (s *Segmenter) Stage() pipeline.Stage { return pipeline.StageSegmentAudio }

// SetLogger implements stage.LoggerAware.
func (s *Segmenter) SetLogger(logger *slog.Logger) {
	s.logger = logging.NewComponentLogger(logger, "audio-segment")
}

// Run writes one WAV per span under the req.OutputRef directory.
func (s *Segmenter) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	source := strings.TrimSpace(req.InputRef)
	dir := strings.TrimSpace(req.OutputRef)
	if source == "" || dir == "" {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "segment-audio", "request", "input path and output directory are required", nil)
	}
	duration := req.Options.Duration
	if duration <= 0 {
		probe, err := s.tools.probe(ctx, source)
		if err != nil {
			return pipeline.Result{}, services.Wrap(services.ErrExternalTool, "segment-audio", "probe audio", "", err)
		}
		duration = probe.DurationSeconds()
	}
	spans, err := PlanSegments(duration, s.cfg.Audio.SegmentSeconds, s.cfg.Audio.SegmentationThresholdS)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "segment-audio", "plan segments", "", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "segment-audio", "prepare staging", "", err)
	}

	segments := make([]pipeline.AudioSegment, 0, len(spans))
	for i, span := range spans {
		dest := filepath.Join(dir, fmt.Sprintf("segment-%03d.wav", i))
		if err := s.writeSegment(ctx, source, span, dest); err != nil {
			return pipeline.Result{}, err
		}
		segments = append(segments, pipeline.AudioSegment{Index: i, Path: dest, Start: span.Start, End: span.End})
	}
	s.logger.Info("audio segmented",
		logging.String(logging.FieldEventType, "audio_segmented"),
		logging.Int("segments", len(segments)),
		logging.Float64("duration_seconds", duration),
	)
	return pipeline.Result{
		Stage:    pipeline.StageSegmentAudio,
		Segments: &pipeline.SegmentsResult{Segments: segments},
	}, nil
}

func (s *Segmenter) writeSegment(ctx context.Context, source string, span Span, dest string) error {
	tmp := fileutil.TempPath(dest)
	defer os.Remove(tmp)
	if err := s.tools.ffmpeg.ExtractSegment(ctx, source, span.Start, span.End-span.Start, tmp); err != nil {
		return err
	}
	if err := fileutil.Publish(tmp, dest); err != nil {
		return services.Wrap(services.ErrTransient, "segment-audio", "publish", filepath.Base(dest), err)
	}
	return nil
}

// HealthCheck implements stage.Handler.
func (s *Segmenter) HealthCheck(context.Context) stage.Health {
	return stage.RequireBinaries(string(pipeline.StageSegmentAudio), s.cfg.FFmpegBinary())
}
