package process_test

import (
	"errors"
	"testing"
	"time"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
)

var testOpts = pipeline.ValidateOptions{EmbeddingDimensions: 3}

func newProcess(t *testing.T) *process.Process {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return process.New("p-1", "tenant-a", process.OriginalFile{Path: "/media/in.mp4", Size: 10 << 20}, now)
}

func TestNewStartsUploaded(t *testing.T) {
	p := newProcess(t)
	if p.Status != pipeline.StatusUploaded {
		t.Fatalf("expected uploaded, got %s", p.Status)
	}
	if p.Progress.Percentage != 0 {
		t.Fatalf("expected zero progress, got %v", p.Progress.Percentage)
	}
	if len(p.ProcessingHistory) != 1 || p.ProcessingHistory[0].Status != process.HistoryCreated {
		t.Fatalf("expected creation history entry, got %#v", p.ProcessingHistory)
	}
}

func TestAddProgressIsMonotonicAndCapped(t *testing.T) {
	p := newProcess(t)
	p.AddProgress(33.333)
	p.AddProgress(-10)
	if p.Progress.Percentage != 33.33 {
		t.Fatalf("expected 33.33, got %v", p.Progress.Percentage)
	}
	p.AddProgress(90)
	if p.Progress.Percentage != 100 {
		t.Fatalf("expected cap at 100, got %v", p.Progress.Percentage)
	}
}

func TestFailResetsProgressButKeepsResults(t *testing.T) {
	p := newProcess(t)
	video := pipeline.Result{Stage: pipeline.StageCompressVideo, Video: &pipeline.VideoResult{Path: "/out/a.mp4", Size: 10, Action: pipeline.VideoActionCopy}}
	if err := p.Apply(video, testOpts); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	p.AddProgress(15)
	p.Fail("extract_audio", "ffmpeg exited 1", time.Now())
	if p.Status != pipeline.StatusFailed || p.Progress.Percentage != 0 {
		t.Fatalf("unexpected state after fail: %s %v", p.Status, p.Progress.Percentage)
	}
	if p.Files.Processed.Path != "/out/a.mp4" {
		t.Fatalf("expected video result retained, got %q", p.Files.Processed.Path)
	}
}

func TestRecordIssueIsAppendOnlyAndDeduped(t *testing.T) {
	p := newProcess(t)
	p.RecordIssue(pipeline.StageTranscribeSegment, []string{"a", "b"}, 2, time.Now())
	p.RecordIssue(pipeline.StageTranscribeSegment, []string{"b", "c"}, 3, time.Now())
	got := p.JobLedger[pipeline.StageTranscribeSegment]
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected ledger: %v", got)
	}
	if !p.LedgerOwns(pipeline.StageTranscribeSegment, "b") || p.LedgerOwns(pipeline.StageGenerateTags, "b") {
		t.Fatal("ledger ownership mismatch")
	}
}

func TestApplyEmbeddingOnce(t *testing.T) {
	p := newProcess(t)
	result := pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: []float64{0.1, 0.2, 0.3}}}
	if err := p.Apply(result, testOpts); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	if err := p.Apply(result, testOpts); !errors.Is(err, process.ErrEmbeddingAlreadySet) {
		t.Fatalf("expected ErrEmbeddingAlreadySet, got %v", err)
	}
	short := pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: []float64{1}}}
	q := newProcess(t)
	if err := q.Apply(short, testOpts); !errors.Is(err, pipeline.ErrInvalidResult) {
		t.Fatalf("expected invalid result, got %v", err)
	}
	if len(q.Embedding) != 0 {
		t.Fatal("invalid embedding must not be written")
	}
}

func TestNormalizeTags(t *testing.T) {
	tags := process.NormalizeTags([]pipeline.Tag{
		{Name: "Machine  Learning", Weight: 0.4},
		{Name: "machine learning", Weight: 0.9},
		{Name: "ÉCOLE", Weight: 0.2},
		{Name: "  ", Weight: 1},
	})
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %#v", tags)
	}
	if tags[0].Name != "machine learning" || tags[0].Weight != 0.9 {
		t.Fatalf("unexpected merged tag: %#v", tags[0])
	}
	if tags[1].Name != "école" {
		t.Fatalf("expected unicode lowercase, got %q", tags[1].Name)
	}
}

func TestTranscriptFullTextSetWhenAllSegmentsArrive(t *testing.T) {
	p := newProcess(t)
	segments := pipeline.Result{Stage: pipeline.StageSegmentAudio, Segments: &pipeline.SegmentsResult{Segments: []pipeline.AudioSegment{
		{Index: 0, Path: "/a/0.wav", Start: 0, End: 600},
		{Index: 1, Path: "/a/1.wav", Start: 600, End: 900},
	}}}
	if err := p.Apply(segments, testOpts); err != nil {
		t.Fatalf("Apply segments failed: %v", err)
	}
	second := pipeline.Result{Stage: pipeline.StageTranscribeSegment, Transcript: &pipeline.SegmentTranscript{Index: 1, Text: "world", Start: 600, End: 900}}
	if err := p.Apply(second, testOpts); err != nil {
		t.Fatalf("Apply transcript failed: %v", err)
	}
	if p.Transcript.FullText != "" {
		t.Fatalf("full text must wait for every segment, got %q", p.Transcript.FullText)
	}
	first := pipeline.Result{Stage: pipeline.StageTranscribeSegment, Transcript: &pipeline.SegmentTranscript{Index: 0, Text: " hello ", Start: 0, End: 600}}
	if err := p.Apply(first, testOpts); err != nil {
		t.Fatalf("Apply transcript failed: %v", err)
	}
	if p.Transcript.FullText != "hello world" {
		t.Fatalf("unexpected full text %q", p.Transcript.FullText)
	}
	if !p.HasResult(pipeline.StageTranscribeSegment, 0) || p.HasResult(pipeline.StageTranscribeSegment, 2) {
		t.Fatal("HasResult mismatch for transcript units")
	}
}

func TestMissingForCompletion(t *testing.T) {
	complete := func() *process.Process {
		p := newProcess(t)
		p.Transcript.FullText = "hello"
		p.Tags = []pipeline.Tag{{Name: "x", Weight: 1}}
		p.Title = "A talk"
		p.TodoList = []string{"follow up"}
		p.Embedding = []float64{1, 2, 3}
		p.Files.Processed = process.ProcessedFile{Path: "/out", StorageType: pipeline.StorageRemote, RemoteLocation: "s3://b/k"}
		return p
	}

	tests := []struct {
		name   string
		mutate func(*process.Process)
		want   string
	}{
		{"transcript", func(p *process.Process) { p.Transcript.FullText = " " }, "transcript.fullText"},
		{"tags", func(p *process.Process) { p.Tags = nil }, "tags"},
		{"title placeholder", func(p *process.Process) { p.Title = "untitled" }, "title"},
		{"todo", func(p *process.Process) { p.TodoList = nil }, "todoList"},
		{"embedding", func(p *process.Process) { p.Embedding = nil }, "embedding"},
		{"remote location", func(p *process.Process) { p.Files.Processed.RemoteLocation = "" }, "files.processed.remoteLocation"},
	}

	if missing := complete().MissingForCompletion("Untitled"); len(missing) != 0 {
		t.Fatalf("expected complete record, missing %v", missing)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := complete()
			tc.mutate(p)
			missing := p.MissingForCompletion("Untitled")
			if len(missing) != 1 || missing[0] != tc.want {
				t.Fatalf("expected [%s], got %v", tc.want, missing)
			}
		})
	}
}

func TestEstimateRemaining(t *testing.T) {
	p := newProcess(t)
	p.AddProgress(25)
	p.EstimateRemaining(p.CreatedAt.Add(60 * time.Second))
	if p.Progress.EstimatedTimeRemaining != 180 {
		t.Fatalf("expected 180s remaining, got %v", p.Progress.EstimatedTimeRemaining)
	}
}
