package pipeline_test

import (
	"errors"
	"math"
	"testing"

	"mediaflow/internal/pipeline"
)

func vector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i) / float64(n)
	}
	return v
}

func TestResultValidate(t *testing.T) {
	opts := pipeline.ValidateOptions{EmbeddingDimensions: 4}
	cases := []struct {
		name    string
		result  pipeline.Result
		wantErr bool
	}{
		{"valid embedding", pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: vector(4)}}, false},
		{"short embedding", pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: vector(3)}}, true},
		{"nan embedding", pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: []float64{0, math.NaN(), 0, 0}}}, true},
		{"payload mismatch", pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Title: &pipeline.TitleResult{Title: "x"}}, true},
		{"two payloads", pipeline.Result{Stage: pipeline.StageGenerateTitle, Title: &pipeline.TitleResult{Title: "x"}, Todo: &pipeline.TodoResult{Items: []string{"a"}}}, true},
		{"empty segments", pipeline.Result{Stage: pipeline.StageSegmentAudio, Segments: &pipeline.SegmentsResult{}}, true},
		{"segment index gap", pipeline.Result{Stage: pipeline.StageSegmentAudio, Segments: &pipeline.SegmentsResult{Segments: []pipeline.AudioSegment{{Index: 1, Path: "a", End: 1}}}}, true},
		{"valid segments", pipeline.Result{Stage: pipeline.StageSegmentAudio, Segments: &pipeline.SegmentsResult{Segments: []pipeline.AudioSegment{{Index: 0, Path: "a", End: 1}}}}, false},
		{"zero duration audio", pipeline.Result{Stage: pipeline.StageExtractAudio, Audio: &pipeline.AudioResult{Path: "a.wav"}}, true},
		{"remote without location", pipeline.Result{Stage: pipeline.StageUploadRemote, Upload: &pipeline.UploadResult{StorageType: pipeline.StorageRemote, Path: "x"}}, true},
		{"local upload", pipeline.Result{Stage: pipeline.StageUploadRemote, Upload: &pipeline.UploadResult{StorageType: pipeline.StorageLocal, Path: "x"}}, false},
		{"empty tags", pipeline.Result{Stage: pipeline.StageGenerateTags, Tags: &pipeline.TagsResult{}}, true},
		{"blank title", pipeline.Result{Stage: pipeline.StageGenerateTitle, Title: &pipeline.TitleResult{Title: "  "}}, true},
		{"video copy", pipeline.Result{Stage: pipeline.StageCompressVideo, Video: &pipeline.VideoResult{Path: "v.mp4", Size: 10, Action: pipeline.VideoActionCopy}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.result.Validate(opts)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !errors.Is(err, pipeline.ErrInvalidResult) {
				t.Fatalf("expected ErrInvalidResult, got %v", err)
			}
		})
	}
}

func TestDecodeResultRejectsCharIndexedVector(t *testing.T) {
	raw := []byte(`{"stage":"generate-embedding","embedding":{"vector":{"0":0.1,"1":0.2}}}`)
	if _, err := pipeline.DecodeResult(raw); !errors.Is(err, pipeline.ErrInvalidResult) {
		t.Fatalf("expected ErrInvalidResult, got %v", err)
	}
}

func TestDecodeResultRoundTrip(t *testing.T) {
	in := pipeline.Result{Stage: pipeline.StageGenerateTodo, Todo: &pipeline.TodoResult{Items: []string{"call back"}}}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := pipeline.DecodeResult(data)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if out.Todo == nil || out.Todo.Items[0] != "call back" {
		t.Fatalf("unexpected decoded result: %+v", out)
	}
}
