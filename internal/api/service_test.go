package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	st := testsupport.MustOpenStore(t, db)
	q := testsupport.MustOpenQueue(t, db)
	coord, err := workflow.New(cfg, st, q, nil)
	require.NoError(t, err)
	media := filepath.Join(testsupport.BaseDir(cfg), "media", "review.mp4")
	testsupport.WriteFile(t, media, 1<<20)
	return NewService(coord, st, q), media
}

func TestServiceSubmitAndStatus(t *testing.T) {
	svc, media := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, SubmitRequest{MediaPath: media, Tenant: "acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, string(pipeline.StatusProcessingVideo), resp.Status)

	view, err := svc.Status(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusProcessingVideo, view.Status)
	assert.NotNil(t, view.Errors)

	items, err := svc.List(ctx, []string{string(pipeline.StatusProcessingVideo)}, "acme", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, media, items[0].MediaPath)
	assert.NotEmpty(t, items[0].CreatedAt)

	none, err := svc.List(ctx, nil, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestServiceStatusUnknownProcess(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestServiceForceAdvanceWithResult(t *testing.T) {
	svc, media := newTestService(t)
	ctx := context.Background()
	resp, err := svc.Submit(ctx, SubmitRequest{MediaPath: media})
	require.NoError(t, err)

	err = svc.ForceAdvance(ctx, resp.ID, ForceAdvanceRequest{
		Stage:  "extract_audio",
		Result: []byte(`{"audio":{"path":"/staging/audio.wav","size":1024,"duration":42}}`),
		Actor:  "ops",
	})
	require.NoError(t, err)

	view, err := svc.Status(ctx, resp.ID)
	require.NoError(t, err)
	require.Contains(t, view.Stages, pipeline.StageExtractAudio)
	assert.Equal(t, "succeeded", string(view.Stages[pipeline.StageExtractAudio].Status))

	jobs, err := svc.Queue(ctx, queue.ListFilter{ProcessID: resp.ID, Stage: pipeline.StageSegmentAudio})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestServiceForceAdvanceRejectsUnknownStage(t *testing.T) {
	svc, media := newTestService(t)
	resp, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: media})
	require.NoError(t, err)

	err = svc.ForceAdvance(context.Background(), resp.ID, ForceAdvanceRequest{Stage: "rip-disc"})
	require.ErrorIs(t, err, services.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestServiceForceCompleteRefusesIncompleteProcess(t *testing.T) {
	svc, media := newTestService(t)
	resp, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: media})
	require.NoError(t, err)

	err = svc.ForceComplete(context.Background(), resp.ID, ForceCompleteRequest{Actor: "ops"})
	require.ErrorIs(t, err, services.ErrGuard)
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	view, err := svc.Status(context.Background(), resp.ID)
	require.NoError(t, err)
	require.NotEmpty(t, view.Errors)
	assert.Equal(t, string(services.CategoryGuard), view.Errors[len(view.Errors)-1].Category)
}

func TestServiceQueueStatsAndCounts(t *testing.T) {
	svc, media := newTestService(t)
	ctx := context.Background()
	_, err := svc.Submit(ctx, SubmitRequest{MediaPath: media})
	require.NoError(t, err)

	stats, err := svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[string(pipeline.StageCompressVideo)][string(queue.StatusPending)])
	assert.Equal(t, 0, stats[string(pipeline.StageCompressVideo)][string(queue.StatusFailed)])

	counts, err := svc.ProcessCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(pipeline.StatusProcessingVideo)])
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.Wrap(services.ErrNotFound, "store", "load", "", nil), http.StatusNotFound},
		{services.Wrap(services.ErrValidation, "api", "submit", "", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrGuard, "workflow", "complete", "", nil), http.StatusConflict},
		{services.Wrap(services.ErrCorrupt, "store", "mutate", "", nil), http.StatusUnprocessableEntity},
		{services.Wrap(services.ErrTransient, "store", "mutate", "", nil), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), "error %v", tt.err)
	}
}

func TestFromJobFormatsTimes(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	job := &queue.Job{
		ID: "job-1", Stage: pipeline.StageFinalize, ProcessID: "p-1",
		Status: queue.StatusSucceeded, RunAt: started, StartedAt: &started, FinishedAt: &finished,
		Result: []byte(`{}`),
	}
	dto := FromJob(job)
	assert.Equal(t, "finalize", dto.Stage)
	assert.Equal(t, "2026-03-01T10:00:00.000Z", dto.RunAt)
	assert.Equal(t, int64(1500), dto.DurationMS)
	assert.True(t, dto.HasResult)
	assert.Empty(t, dto.LockedUntil)
}
