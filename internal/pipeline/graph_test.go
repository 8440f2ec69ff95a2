package pipeline_test

import (
	"slices"
	"testing"

	"mediaflow/internal/pipeline"
)

func TestDefaultGraphRoots(t *testing.T) {
	g := pipeline.DefaultGraph()
	roots := g.Roots()
	want := []pipeline.Stage{pipeline.StageCompressVideo, pipeline.StageExtractAudio}
	if !slices.Equal(roots, want) {
		t.Fatalf("Roots() = %v, want %v", roots, want)
	}
	if g.Last() != pipeline.StageFinalize {
		t.Fatalf("Last() = %s, want finalize", g.Last())
	}
}

func TestReadyIsOrderIndependent(t *testing.T) {
	g := pipeline.DefaultGraph()
	orders := [][]pipeline.Stage{
		{pipeline.StageCompressVideo, pipeline.StageExtractAudio},
		{pipeline.StageExtractAudio, pipeline.StageCompressVideo},
	}
	for _, order := range orders {
		done := map[pipeline.Stage]bool{}
		succeeded := func(s pipeline.Stage) bool { return done[s] }

		done[order[0]] = true
		if ready := g.Ready(order[0], succeeded); len(ready) != 0 {
			t.Fatalf("order %v: expected no ready stage after first branch, got %v", order, ready)
		}
		done[order[1]] = true
		ready := g.Ready(order[1], succeeded)
		if !slices.Equal(ready, []pipeline.Stage{pipeline.StageSegmentAudio}) {
			t.Fatalf("order %v: expected segment-audio ready, got %v", order, ready)
		}
	}
}

func TestUploadWaitsForAllAnalysisBranches(t *testing.T) {
	g := pipeline.DefaultGraph()
	done := map[pipeline.Stage]bool{}
	succeeded := func(s pipeline.Stage) bool { return done[s] }
	branches := pipeline.AnalysisStages()
	for i, branch := range branches {
		done[branch] = true
		ready := g.Ready(branch, succeeded)
		if i < len(branches)-1 && len(ready) != 0 {
			t.Fatalf("upload issued after %d of %d branches", i+1, len(branches))
		}
		if i == len(branches)-1 && !slices.Equal(ready, []pipeline.Stage{pipeline.StageUploadRemote}) {
			t.Fatalf("expected upload-remote after last branch, got %v", ready)
		}
	}
}

func TestTranscribeFansOut(t *testing.T) {
	node, ok := pipeline.DefaultGraph().Node(pipeline.StageTranscribeSegment)
	if !ok || !node.FanOut {
		t.Fatalf("expected transcribe-segment to fan out, got %+v", node)
	}
}

func TestNewGraphRejectsUndeclaredPrerequisite(t *testing.T) {
	_, err := pipeline.NewGraph([]pipeline.Node{
		{Stage: "b", Requires: []pipeline.Stage{"a"}},
		{Stage: "a"},
	})
	if err == nil {
		t.Fatal("expected error for forward reference")
	}
}

func TestStepAndParse(t *testing.T) {
	if got := pipeline.StageExtractAudio.Step(); got != "extract_audio" {
		t.Fatalf("Step() = %q", got)
	}
	for _, in := range []string{"extract_audio", "Extract-Audio", " extract-audio "} {
		stage, ok := pipeline.ParseStage(in)
		if !ok || stage != pipeline.StageExtractAudio {
			t.Fatalf("ParseStage(%q) = %q, %v", in, stage, ok)
		}
	}
	if _, ok := pipeline.ParseStage("brew-coffee"); ok {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestDefaultWeightsValidate(t *testing.T) {
	w := pipeline.DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}
	if got := w.Unit(pipeline.StageTranscribeSegment, 3); got != 10 {
		t.Fatalf("Unit() = %v, want 10", got)
	}
	w[pipeline.StageFinalize] = 0
	if err := w.Validate(); err == nil {
		t.Fatal("expected error when weights do not sum to 100")
	}
}

func TestWeightsFromConfig(t *testing.T) {
	values := map[string]float64{}
	for stage, weight := range pipeline.DefaultWeights() {
		values[stage.Step()] = weight
	}
	w, err := pipeline.WeightsFromConfig(values)
	if err != nil {
		t.Fatalf("WeightsFromConfig: %v", err)
	}
	if w[pipeline.StageCompressVideo] != 15 {
		t.Fatalf("unexpected compress weight %v", w[pipeline.StageCompressVideo])
	}
	if _, err := pipeline.WeightsFromConfig(map[string]float64{"nope": 100}); err == nil {
		t.Fatal("expected unknown stage error")
	}
}
