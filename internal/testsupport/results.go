package testsupport

import (
	"context"
	"fmt"
	"path/filepath"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/stage"
)

// SegmentCount is the number of audio segments StageResult produces.
const SegmentCount = 3

// StageResult returns a valid, deterministic result for any stage request.
// Embeddings have four dimensions, matching NewConfig.
func StageResult(req stage.Request) pipeline.Result {
	r := pipeline.Result{Stage: req.StageType}
	switch req.StageType {
	case pipeline.StageCompressVideo:
		r.Video = &pipeline.VideoResult{
			Path: req.OutputRef, Size: 4 << 20, Duration: 90, Width: 1280, Height: 720,
			Action: pipeline.VideoActionTranscode, SourceSize: req.Options.SourceSize,
		}
	case pipeline.StageExtractAudio:
		r.Audio = &pipeline.AudioResult{Path: req.OutputRef, Size: 1 << 20, Duration: 90}
	case pipeline.StageSegmentAudio:
		segs := make([]pipeline.AudioSegment, SegmentCount)
		for i := range segs {
			segs[i] = pipeline.AudioSegment{
				Index: i,
				Path:  filepath.Join(req.OutputRef, fmt.Sprintf("segment_%03d.wav", i)),
				Start: float64(i * 30),
				End:   float64((i + 1) * 30),
			}
		}
		r.Segments = &pipeline.SegmentsResult{Segments: segs}
	case pipeline.StageTranscribeSegment:
		var start, end float64
		if seg := req.Options.Segment; seg != nil {
			start, end = seg.Start, seg.End
		}
		r.Transcript = &pipeline.SegmentTranscript{Index: req.Unit, Text: fmt.Sprintf("part %d", req.Unit), Start: start, End: end}
	case pipeline.StageGenerateTags:
		r.Tags = &pipeline.TagsResult{Tags: []pipeline.Tag{{Name: "Go", Weight: 0.5}, {Name: "go ", Weight: 0.9}, {Name: "Media", Weight: 0.4}}}
	case pipeline.StageGenerateTitle:
		r.Title = &pipeline.TitleResult{Title: "Weekly sync"}
	case pipeline.StageGenerateTodo:
		r.Todo = &pipeline.TodoResult{Items: []string{"ship the release"}}
	case pipeline.StageGenerateEmbedding:
		r.Embedding = &pipeline.EmbeddingResult{Vector: []float64{0.1, 0.2, 0.3, 0.4}}
	case pipeline.StageUploadRemote:
		r.Upload = &pipeline.UploadResult{StorageType: pipeline.StorageRemote, RemoteLocation: "s3://bucket/" + req.OutputRef, Path: req.InputRef}
	case pipeline.StageFinalize:
		r.Finalize = &pipeline.FinalizeResult{Path: req.OutputRef, Size: 4 << 20}
	}
	return r
}

// FakeHandler is a stage handler driven by a function.
type FakeHandler struct {
	Name pipeline.Stage
	Fn   func(ctx context.Context, req stage.Request) (pipeline.Result, error)
}

// Stage implements stage.Handler.
func (f FakeHandler) Stage() pipeline.Stage { return f.Name }

// Run implements stage.Handler.
func (f FakeHandler) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	if f.Fn == nil {
		return StageResult(req), nil
	}
	return f.Fn(ctx, req)
}

// HealthCheck implements stage.Handler.
func (f FakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(f.Name))
}

// FakeRegistry registers a FakeHandler producing StageResult for every
// stage, with overrides taking precedence.
func FakeRegistry(overrides ...FakeHandler) *stage.Registry {
	byStage := map[pipeline.Stage]FakeHandler{}
	for _, o := range overrides {
		byStage[o.Name] = o
	}
	handlers := make([]stage.Handler, 0, len(pipeline.DefaultGraph().Stages()))
	for _, st := range pipeline.DefaultGraph().Stages() {
		h, ok := byStage[st]
		if !ok {
			h = FakeHandler{Name: st}
		}
		handlers = append(handlers, h)
	}
	reg, err := stage.NewRegistry(handlers...)
	if err != nil {
		panic(err)
	}
	return reg
}
