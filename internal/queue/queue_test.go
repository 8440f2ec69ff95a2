package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/testsupport"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func openQueue(t *testing.T) (*queue.Queue, *clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := testsupport.MustOpenQueue(t, testsupport.MustOpenDB(t, cfg), queue.WithClock(c.Now))
	return q, c
}

func lease(d time.Duration) func(pipeline.Stage) time.Duration {
	return func(pipeline.Stage) time.Duration { return d }
}

func TestEnqueueIsIdempotentOnID(t *testing.T) {
	q, _ := openQueue(t)
	ctx := context.Background()
	req := queue.EnqueueRequest{ID: "j1", Stage: pipeline.StageCompressVideo, ProcessID: "p1", MaxAttempts: 3}

	created, err := q.Enqueue(ctx, req)
	if err != nil || !created {
		t.Fatalf("first Enqueue = %v %v", created, err)
	}
	created, err = q.Enqueue(ctx, req)
	if err != nil || created {
		t.Fatalf("second Enqueue = %v %v, want no-op", created, err)
	}
	jobs, err := q.List(ctx, queue.ListFilter{ProcessID: "p1"})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one job, got %d (%v)", len(jobs), err)
	}
}

func TestEnqueueNotifiesStage(t *testing.T) {
	q, _ := openQueue(t)
	wake := q.Notifier().Wakeups(pipeline.StageFinalize)
	if _, err := q.Enqueue(context.Background(), queue.EnqueueRequest{ID: "j", Stage: pipeline.StageFinalize, ProcessID: "p"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	select {
	case <-wake:
	default:
		t.Fatal("expected wakeup after enqueue")
	}
}

func TestClaimCompleteStoredResult(t *testing.T) {
	q, _ := openQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{ID: "j1", Stage: pipeline.StageGenerateTitle, ProcessID: "p1", MaxAttempts: 2}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	none, err := q.Claim(ctx, []pipeline.Stage{pipeline.StageGenerateTags}, lease(time.Minute))
	if err != nil || none != nil {
		t.Fatalf("expected no job on other stage, got %v %v", none, err)
	}

	job, err := q.Claim(ctx, []pipeline.Stage{pipeline.StageGenerateTitle}, lease(time.Minute))
	if err != nil || job == nil {
		t.Fatalf("Claim = %v %v", job, err)
	}
	if job.Status != queue.StatusRunning || job.Attempts != 1 || job.LockedUntil == nil {
		t.Fatalf("unexpected claimed job %#v", job)
	}
	if again, _ := q.Claim(ctx, []pipeline.Stage{pipeline.StageGenerateTitle}, lease(time.Minute)); again != nil {
		t.Fatal("running job must not be claimed twice")
	}

	if _, found, _ := q.StoredResult(ctx, "j1"); found {
		t.Fatal("result must be absent before completion")
	}
	result, _ := json.Marshal(map[string]any{"stage": "generate-title", "title": map[string]string{"title": "x"}})
	if err := q.Complete(ctx, "j1", result); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := q.Complete(ctx, "j1", []byte(`{"other":true}`)); err != nil {
		t.Fatalf("second Complete failed: %v", err)
	}
	stored, found, err := q.StoredResult(ctx, "j1")
	if err != nil || !found || string(stored) != string(result) {
		t.Fatalf("StoredResult = %s %v %v", stored, found, err)
	}
}

func TestRetryDelaysRunAt(t *testing.T) {
	q, c := openQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{ID: "j1", Stage: pipeline.StageExtractAudio, ProcessID: "p1", MaxAttempts: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	stages := []pipeline.Stage{pipeline.StageExtractAudio}
	if _, err := q.Claim(ctx, stages, lease(time.Minute)); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := q.Retry(ctx, "j1", "ffmpeg exited 1", c.now.Add(10*time.Second)); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if job, _ := q.Claim(ctx, stages, lease(time.Minute)); job != nil {
		t.Fatal("job must wait for run_at")
	}
	c.now = c.now.Add(11 * time.Second)
	job, err := q.Claim(ctx, stages, lease(time.Minute))
	if err != nil || job == nil || job.Attempts != 2 || job.LastError != "ffmpeg exited 1" {
		t.Fatalf("unexpected retry claim %#v %v", job, err)
	}
}

func TestReclaimExpiredHonoursBudget(t *testing.T) {
	q, c := openQueue(t)
	ctx := context.Background()
	for _, id := range []string{"once", "last"} {
		budget := 2
		if id == "last" {
			budget = 1
		}
		if _, err := q.Enqueue(ctx, queue.EnqueueRequest{ID: id, Stage: pipeline.StageCompressVideo, ProcessID: "p", MaxAttempts: budget}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if _, err := q.Claim(ctx, []pipeline.Stage{pipeline.StageCompressVideo}, lease(time.Minute)); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
	}
	c.now = c.now.Add(2 * time.Minute)
	jobs, err := q.ReclaimExpired(ctx, func(int) time.Duration { return 0 })
	if err != nil {
		t.Fatalf("ReclaimExpired failed: %v", err)
	}
	got := map[string]queue.Status{}
	for _, job := range jobs {
		got[job.ID] = job.Status
	}
	if got["once"] != queue.StatusPending || got["last"] != queue.StatusFailed {
		t.Fatalf("unexpected reclaim outcome %v", got)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[pipeline.StageCompressVideo][queue.StatusFailed] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestGetMissingJob(t *testing.T) {
	q, _ := openQueue(t)
	if _, err := q.Get(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
