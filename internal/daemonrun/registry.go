package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"mediaflow/internal/analysis"
	"mediaflow/internal/archive"
	"mediaflow/internal/audio"
	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/stage"
	"mediaflow/internal/transcode"
	"mediaflow/internal/transcription"
)

// Registry builds the stage handlers named by workers.stages. An empty list
// registers every stage.
func Registry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stage.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	active := func(st pipeline.Stage) bool {
		return len(cfg.Workers.Stages) == 0 || slices.Contains(cfg.Workers.Stages, string(st))
	}
	component := func(name string) *slog.Logger { return logging.NewComponentLogger(logger, name) }

	var handlers []stage.Handler
	if active(pipeline.StageCompressVideo) {
		handlers = append(handlers, transcode.NewHandler(cfg, component("transcode")))
	}
	if active(pipeline.StageExtractAudio) {
		handlers = append(handlers, audio.NewExtractor(cfg, component("audio")))
	}
	if active(pipeline.StageSegmentAudio) {
		handlers = append(handlers, audio.NewSegmenter(cfg, component("audio")))
	}
	if active(pipeline.StageTranscribeSegment) {
		handlers = append(handlers, transcription.NewHandler(cfg, nil, component("transcription")))
	}
	for _, h := range analysis.New(cfg, component("analysis")).Handlers() {
		if active(h.Stage()) {
			handlers = append(handlers, h)
		}
	}

	if active(pipeline.StageUploadRemote) || active(pipeline.StageFinalize) {
		objects, err := objectstore.New(ctx, cfg.Storage, component("objectstore"))
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		if active(pipeline.StageUploadRemote) {
			handlers = append(handlers, archive.NewUploader(cfg, objects, component("archive")))
		}
		if active(pipeline.StageFinalize) {
			handlers = append(handlers, archive.NewFinalizer(cfg, objects, component("archive")))
		}
	}
	return stage.NewRegistry(handlers...)
}
