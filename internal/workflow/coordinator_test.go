package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/workflow"
)

func TestSubmitIssuesRootStages(t *testing.T) {
	h := newHarness(t)
	p := h.submit()

	assert.Equal(t, pipeline.StatusProcessingVideo, p.Status)
	assert.Zero(t, p.Progress.Percentage)
	assert.Len(t, p.JobLedger[pipeline.StageCompressVideo], 1)
	assert.Len(t, p.JobLedger[pipeline.StageExtractAudio], 1)
	assert.Empty(t, p.JobLedger[pipeline.StageSegmentAudio])

	jobs, err := h.queue.List(h.ctx, queue.ListFilter{ProcessID: p.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.True(t, p.LedgerOwns(job.Stage, job.ID), "queued job %s missing from ledger", job.ID)
		assert.Equal(t, 3, job.MaxAttempts)
	}
}

func TestSubmitRejectsUnreadableMedia(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Submit(h.ctx, workflow.SubmitRequest{MediaPath: filepath.Join(t.TempDir(), "missing.mp4")})
	require.ErrorIs(t, err, services.ErrValidation)

	empty := filepath.Join(t.TempDir(), "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = h.coord.Submit(h.ctx, workflow.SubmitRequest{MediaPath: empty})
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestHappyPathCompletes(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	h.drain(happy)

	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress.Percentage)
	assert.Empty(t, got.ProcessingErrors)
	assert.Equal(t, "part 0 part 1 part 2", got.Transcript.FullText)
	assert.Equal(t, []pipeline.Tag{{Name: "go", Weight: 0.9}, {Name: "media", Weight: 0.4}}, got.Tags)
	assert.Equal(t, "Weekly sync", got.Title)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, got.Embedding)
	assert.Equal(t, pipeline.StorageRemote, got.Files.Processed.StorageType)
	assert.NotEmpty(t, got.Files.Processed.RemoteLocation)
	assert.Equal(t, int64(10<<20), got.Files.Original.Size)
	assert.Equal(t, "1280x720", got.Files.Original.Resolution)
	assert.Len(t, got.JobLedger[pipeline.StageTranscribeSegment], segmentCount)
	assert.False(t, got.Outstanding())

	for _, st := range h.coord.Graph().Stages() {
		assert.Len(t, got.JobLedger[st], unitsFor(st), "ledger for %s", st)
		assert.True(t, got.StageSucceeded(st), "stage %s", st)
	}

	last := -1.0
	var finalize []string
	for _, entry := range got.ProcessingHistory {
		assert.GreaterOrEqual(t, entry.Percentage, last, "progress regressed at %s/%s", entry.Step, entry.Status)
		last = entry.Percentage
		if entry.Step == pipeline.StageFinalize.Step() {
			finalize = append(finalize, entry.Status)
		}
	}
	assert.Equal(t, []string{process.HistoryIssued, process.HistoryCompleted}, finalize)
}

func TestSingleSegmentMediaCompletes(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	oneSegment := func(req stage.Request) (*pipeline.Result, error) {
		result, err := happy(req)
		if req.StageType == pipeline.StageSegmentAudio {
			result.Segments.Segments = result.Segments.Segments[:1]
		}
		return result, err
	}
	h.drain(oneSegment)

	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress.Percentage)
	assert.Empty(t, got.ProcessingErrors)
	assert.Len(t, got.Files.Segments, 1)
	assert.Equal(t, "part 0", got.Transcript.FullText)
	assert.Len(t, got.JobLedger[pipeline.StageTranscribeSegment], 1)

	jobs, err := h.queue.List(h.ctx, queue.ListFilter{ProcessID: p.ID, Stage: pipeline.StageTranscribeSegment})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func unitsFor(st pipeline.Stage) int {
	if st == pipeline.StageTranscribeSegment {
		return segmentCount
	}
	return 1
}

func TestExhaustedRetriesFailProcessOnce(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	boom := services.Wrap(services.ErrExternalTool, "extract-audio", "ffmpeg", "decoder crashed", nil)
	h.drain(failing(pipeline.StageExtractAudio, boom))

	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	assert.Zero(t, got.Progress.Percentage)
	require.Len(t, got.ProcessingErrors, 1)
	entry := got.ProcessingErrors[0]
	assert.Equal(t, "extract_audio", entry.Step)
	assert.Equal(t, string(services.CategoryStage), entry.Category)
	assert.Contains(t, entry.Message, "decoder crashed")
	assert.EqualValues(t, 3, entry.Details["attempts"])

	// Compression output is kept for diagnostics.
	assert.NotEmpty(t, got.Files.Processed.Path)
	assert.True(t, got.StageSucceeded(pipeline.StageCompressVideo))
	assert.Empty(t, got.JobLedger[pipeline.StageSegmentAudio])

	job, err := h.queue.Get(h.ctx, got.JobLedger[pipeline.StageExtractAudio][0])
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
}

func TestNonRetryableFailureSkipsBudget(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	bad := services.Wrap(services.ErrValidation, "compress-video", "probe", "no video stream", nil)
	h.drain(failing(pipeline.StageCompressVideo, bad))

	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	require.Len(t, got.ProcessingErrors, 1)
	assert.Equal(t, "compress_video", got.ProcessingErrors[0].Step)

	job, err := h.queue.Get(h.ctx, got.JobLedger[pipeline.StageCompressVideo][0])
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
}

func TestDuplicateEventIssuesDependentsOnce(t *testing.T) {
	h := newHarness(t)
	p := h.submit()

	job := h.claim(pipeline.StageCompressVideo)
	require.NotNil(t, job)
	assert.Equal(t, workflow.OutcomeApplied, h.execute(job, happy))
	h.runStage(pipeline.StageExtractAudio, happy)

	// Redeliver the compress completion after segment-audio was issued.
	result, _ := happy(mustRequest(t, job))
	outcome, err := h.coord.HandleEvent(h.ctx, workflow.Event{
		ProcessID: p.ID, Stage: job.Stage, JobID: job.ID, Attempt: 1, Result: result,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeDuplicate, outcome)

	got := h.load(p.ID)
	assert.Len(t, got.JobLedger[pipeline.StageSegmentAudio], 1)
	assert.Equal(t, 25.0, got.Progress.Percentage)

	segJobs, err := h.queue.List(h.ctx, queue.ListFilter{ProcessID: p.ID, Stage: pipeline.StageSegmentAudio})
	require.NoError(t, err)
	assert.Len(t, segJobs, 1)
}

func TestJoinIsOrderIndependent(t *testing.T) {
	orders := map[string][]pipeline.Stage{
		"compress first": {pipeline.StageCompressVideo, pipeline.StageExtractAudio},
		"extract first":  {pipeline.StageExtractAudio, pipeline.StageCompressVideo},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			p := h.submit()

			h.runStage(order[0], happy)
			mid := h.load(p.ID)
			assert.Empty(t, mid.JobLedger[pipeline.StageSegmentAudio], "join fired before both prerequisites")

			h.runStage(order[1], happy)
			got := h.load(p.ID)
			assert.Len(t, got.JobLedger[pipeline.StageSegmentAudio], 1)
			assert.Equal(t, pipeline.StatusSegmentingAudio, got.Status)
		})
	}
}

func TestAnalysisJoinWaitsForAllBranches(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	for _, st := range []pipeline.Stage{
		pipeline.StageCompressVideo, pipeline.StageExtractAudio, pipeline.StageSegmentAudio,
	} {
		h.runStage(st, happy)
	}
	for range segmentCount {
		h.runStage(pipeline.StageTranscribeSegment, happy)
	}
	analysis := pipeline.AnalysisStages()
	for i, st := range analysis {
		h.runStage(st, happy)
		got := h.load(p.ID)
		if i < len(analysis)-1 {
			assert.Empty(t, got.JobLedger[pipeline.StageUploadRemote], "upload issued after %s", st)
		} else {
			assert.Len(t, got.JobLedger[pipeline.StageUploadRemote], 1)
		}
	}
}

func TestTranscriptFanOutAccumulatesUnits(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	for _, st := range []pipeline.Stage{
		pipeline.StageCompressVideo, pipeline.StageExtractAudio, pipeline.StageSegmentAudio,
	} {
		h.runStage(st, happy)
	}

	h.runStage(pipeline.StageTranscribeSegment, happy)
	got := h.load(p.ID)
	assert.Equal(t, 40.0, got.Progress.Percentage)
	assert.Empty(t, got.Transcript.FullText)
	assert.Empty(t, got.JobLedger[pipeline.StageGenerateTags])

	h.runStage(pipeline.StageTranscribeSegment, happy)
	h.runStage(pipeline.StageTranscribeSegment, happy)
	got = h.load(p.ID)
	assert.Equal(t, 60.0, got.Progress.Percentage)
	assert.NotEmpty(t, got.Transcript.FullText)
	for _, st := range pipeline.AnalysisStages() {
		assert.Len(t, got.JobLedger[st], 1, "analysis stage %s", st)
	}
	assert.Equal(t, pipeline.StatusAnalyzing, got.Status)
}

func TestTranscriptIndexMustMatchUnit(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	for _, st := range []pipeline.Stage{
		pipeline.StageCompressVideo, pipeline.StageExtractAudio, pipeline.StageSegmentAudio,
	} {
		h.runStage(st, happy)
	}

	job := h.claim(pipeline.StageTranscribeSegment)
	require.NotNil(t, job)
	result, _ := happy(mustRequest(t, job))
	result.Transcript.Index = (job.Unit + 1) % segmentCount
	_, err := h.coord.Advance(h.ctx, workflow.Event{
		ProcessID: p.ID, Stage: job.Stage, JobID: job.ID, Unit: job.Unit, Attempt: 1, Result: result,
	})
	require.ErrorIs(t, err, services.ErrValidation)

	got := h.load(p.ID)
	assert.Empty(t, got.Transcript.Segments)
	assert.Empty(t, got.Stage(pipeline.StageTranscribeSegment).Done)
	assert.Equal(t, 30.0, got.Progress.Percentage)

	// Forced transcripts are held to the recorded segment count.
	outside := &pipeline.Result{
		Stage:      pipeline.StageTranscribeSegment,
		Transcript: &pipeline.SegmentTranscript{Index: segmentCount, Text: "extra", Start: 90, End: 120},
	}
	err = h.coord.ForceAdvance(h.ctx, p.ID, pipeline.StageTranscribeSegment, outside, "ops")
	require.ErrorIs(t, err, services.ErrValidation)

	got = h.load(p.ID)
	assert.Empty(t, got.Transcript.Segments)
	for _, st := range pipeline.AnalysisStages() {
		assert.Empty(t, got.JobLedger[st], "analysis stage %s issued", st)
	}
}

func TestAdvanceRejectsJobOutsideLedger(t *testing.T) {
	h := newHarness(t)
	p := h.submit()

	result, _ := happy(stageRequest(pipeline.StageCompressVideo))
	_, err := h.coord.Advance(h.ctx, workflow.Event{ProcessID: p.ID, Stage: pipeline.StageCompressVideo, JobID: "not-issued", Result: result})
	require.ErrorIs(t, err, services.ErrGuard)

	result, _ = happy(stageRequest(pipeline.StageFinalize))
	_, err = h.coord.Advance(h.ctx, workflow.Event{ProcessID: p.ID, Stage: pipeline.StageFinalize, Result: result})
	require.ErrorIs(t, err, services.ErrGuard)
}

func TestAdvanceRejectsInvalidResult(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	job := h.claim(pipeline.StageExtractAudio)
	require.NotNil(t, job)

	_, err := h.coord.Advance(h.ctx, workflow.Event{
		ProcessID: p.ID, Stage: job.Stage, JobID: job.ID,
		Result: &pipeline.Result{Stage: pipeline.StageExtractAudio, Audio: &pipeline.AudioResult{Path: "/tmp/a.wav"}},
	})
	require.ErrorIs(t, err, services.ErrValidation)

	got := h.load(p.ID)
	assert.Nil(t, got.Files.Audio)
	assert.Zero(t, got.Progress.Percentage)
}

func TestResultForDeletedProcessIsDiscarded(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	job := h.claim(pipeline.StageCompressVideo)
	require.NotNil(t, job)
	require.NoError(t, h.coord.Delete(h.ctx, p.ID))

	assert.Equal(t, workflow.OutcomeDiscarded, h.execute(job, happy))
	_, err := h.store.Load(h.ctx, p.ID)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestLateResultAfterFailureIsKeptWithoutIssuing(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	compress := h.claim(pipeline.StageCompressVideo)
	require.NotNil(t, compress)

	bad := services.Wrap(services.ErrValidation, "extract-audio", "probe", "no audio stream", nil)
	h.runStage(pipeline.StageExtractAudio, failing(pipeline.StageExtractAudio, bad))

	assert.Equal(t, workflow.OutcomeLate, h.execute(compress, happy))
	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	assert.Zero(t, got.Progress.Percentage)
	assert.NotEmpty(t, got.Files.Processed.Path)
	assert.Empty(t, got.JobLedger[pipeline.StageSegmentAudio])
	assert.Len(t, got.ProcessingErrors, 1)
}

func TestCompletionGuardKeepsProcessOpen(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	placeholder := &pipeline.Result{Stage: pipeline.StageGenerateTitle, Title: &pipeline.TitleResult{Title: "untitled"}}
	h.drain(overriding(pipeline.StageGenerateTitle, placeholder))

	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusFinalizing, got.Status)
	require.NotEmpty(t, got.ProcessingErrors)
	last := got.ProcessingErrors[len(got.ProcessingErrors)-1]
	assert.Equal(t, string(services.CategoryGuard), last.Category)
	assert.Contains(t, last.Message, "title")

	err := h.coord.MarkCompleted(h.ctx, p.ID)
	require.ErrorIs(t, err, services.ErrGuard)
	assert.Equal(t, pipeline.StatusFinalizing, h.load(p.ID).Status)

	title := &pipeline.Result{Stage: pipeline.StageGenerateTitle, Title: &pipeline.TitleResult{Title: "Quarterly planning"}}
	require.NoError(t, h.coord.ForceAdvance(h.ctx, p.ID, pipeline.StageGenerateTitle, title, "ops"))
	require.NoError(t, h.coord.MarkCompleted(h.ctx, p.ID))

	got = h.load(p.ID)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress.Percentage)
	assert.Equal(t, "Quarterly planning", got.Title)
}

func TestForceAdvanceRevivesFailedProcess(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	bad := services.Wrap(services.ErrValidation, "extract-audio", "probe", "no audio stream", nil)
	h.drain(failing(pipeline.StageExtractAudio, bad))
	require.Equal(t, pipeline.StatusFailed, h.load(p.ID).Status)

	require.NoError(t, h.coord.ForceAdvance(h.ctx, p.ID, pipeline.StageExtractAudio, nil, "ops"))
	revived := h.load(p.ID)
	assert.Equal(t, pipeline.StatusProcessingVideo, revived.Status)
	assert.Equal(t, 15.0, revived.Progress.Percentage)
	assert.Len(t, revived.JobLedger[pipeline.StageExtractAudio], 2)

	h.drain(happy)
	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Len(t, got.ProcessingErrors, 1, "earlier failure stays in the ledger")
}

func TestForceAdvanceRequiresPrerequisites(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	err := h.coord.ForceAdvance(h.ctx, p.ID, pipeline.StageSegmentAudio, nil, "ops")
	require.ErrorIs(t, err, services.ErrGuard)
}

func TestForceAdvanceRefusesCompletedProcess(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	h.drain(happy)
	err := h.coord.ForceAdvance(h.ctx, p.ID, pipeline.StageGenerateTitle, nil, "ops")
	require.ErrorIs(t, err, services.ErrGuard)
}

func TestForceCompleteStillChecksFields(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	bad := services.Wrap(services.ErrValidation, "extract-audio", "probe", "no audio stream", nil)
	h.drain(failing(pipeline.StageExtractAudio, bad))

	err := h.coord.ForceComplete(h.ctx, p.ID, "ops")
	require.ErrorIs(t, err, services.ErrGuard)
	got := h.load(p.ID)
	assert.Equal(t, pipeline.StatusFailed, got.Status)
	assert.Len(t, got.ProcessingErrors, 2)
}

func TestStatusReportsErrorsAndProgress(t *testing.T) {
	h := newHarness(t)
	p := h.submit()
	h.runStage(pipeline.StageCompressVideo, happy)

	view, err := h.coord.Status(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusProcessingVideo, view.Status)
	assert.Equal(t, 15.0, view.Progress.Percentage)
	assert.NotNil(t, view.Errors)
	assert.Empty(t, view.Errors)

	_, err = h.coord.Status(h.ctx, "missing")
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestEmbeddingIsWriteOnce(t *testing.T) {
	p := process.New("p1", "", process.OriginalFile{Path: "/m.mp4", Size: 1}, timeZero)
	opts := pipeline.ValidateOptions{EmbeddingDimensions: 2}
	first := pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: []float64{1, 2}}}
	require.NoError(t, p.Apply(first, opts))
	second := pipeline.Result{Stage: pipeline.StageGenerateEmbedding, Embedding: &pipeline.EmbeddingResult{Vector: []float64{3, 4}}}
	require.ErrorIs(t, p.Apply(second, opts), process.ErrEmbeddingAlreadySet)
	assert.Equal(t, []float64{1, 2}, p.Embedding)
}
