package workflow_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaflow/internal/config"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/stage"
	"mediaflow/internal/store"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

type runner func(req stage.Request) (*pipeline.Result, error)

type harness struct {
	t     *testing.T
	ctx   context.Context
	cfg   *config.Config
	store *store.Store
	queue *queue.Queue
	coord *workflow.Coordinator
	media string
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithMaxAttempts(3)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	db := testsupport.MustOpenDB(t, cfg)
	st := testsupport.MustOpenStore(t, db)
	q := testsupport.MustOpenQueue(t, db)
	coord, err := workflow.New(cfg, st, q, nil)
	require.NoError(t, err)

	media := filepath.Join(testsupport.BaseDir(cfg), "media", "meeting.mp4")
	testsupport.WriteFile(t, media, 10<<20)
	return &harness{t: t, ctx: context.Background(), cfg: cfg, store: st, queue: q, coord: coord, media: media}
}

func (h *harness) submit() *process.Process {
	h.t.Helper()
	p, err := h.coord.Submit(h.ctx, workflow.SubmitRequest{MediaPath: h.media, Tenant: "acme"})
	require.NoError(h.t, err)
	return p
}

func (h *harness) load(id string) *process.Process {
	h.t.Helper()
	p, err := h.store.Load(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func lease(pipeline.Stage) time.Duration { return time.Minute }

// claim leases the next job on the given stages (any stage when empty).
func (h *harness) claim(stages ...pipeline.Stage) *queue.Job {
	h.t.Helper()
	if len(stages) == 0 {
		stages = h.coord.Graph().Stages()
	}
	job, err := h.queue.Claim(h.ctx, stages, lease)
	require.NoError(h.t, err)
	return job
}

// execute runs a claimed job through run and reports the outcome to the
// coordinator the way the worker pool does.
func (h *harness) execute(job *queue.Job, run runner) workflow.Outcome {
	h.t.Helper()
	req, err := stage.DecodeRequest(job.Payload)
	require.NoError(h.t, err)
	ev := workflow.Event{ProcessID: job.ProcessID, Stage: job.Stage, JobID: job.ID, Unit: job.Unit, Attempt: job.Attempts}

	result, runErr := run(req)
	if runErr == nil {
		payload, err := result.Encode()
		require.NoError(h.t, err)
		require.NoError(h.t, h.queue.Complete(h.ctx, job.ID, payload))
		ev.Result = result
	} else {
		failure := stage.AsFailure(runErr)
		ev.Failure = failure
		ev.Final = !failure.Retryable || job.ExhaustedAttempts()
		if ev.Final {
			require.NoError(h.t, h.queue.Fail(h.ctx, job.ID, failure.Message))
		} else {
			require.NoError(h.t, h.queue.Retry(h.ctx, job.ID, failure.Message, time.Now().Add(-time.Second)))
		}
	}
	outcome, err := h.coord.HandleEvent(h.ctx, ev)
	require.NoError(h.t, err)
	return outcome
}

// runStage claims and executes one job of the given stage.
func (h *harness) runStage(st pipeline.Stage, run runner) workflow.Outcome {
	h.t.Helper()
	job := h.claim(st)
	require.NotNil(h.t, job, "no runnable %s job", st)
	return h.execute(job, run)
}

// drain executes jobs until the queue has nothing runnable.
func (h *harness) drain(run runner) {
	h.t.Helper()
	for range 200 {
		job := h.claim()
		if job == nil {
			return
		}
		h.execute(job, run)
	}
	h.t.Fatal("queue did not drain")
}

const segmentCount = testsupport.SegmentCount

func happy(req stage.Request) (*pipeline.Result, error) {
	r := testsupport.StageResult(req)
	return &r, nil
}

// failing wraps happy so that the given stage always returns err.
func failing(st pipeline.Stage, err error) runner {
	return func(req stage.Request) (*pipeline.Result, error) {
		if req.StageType == st {
			return nil, err
		}
		return happy(req)
	}
}

// overriding wraps happy so that the given stage returns result.
func overriding(st pipeline.Stage, result *pipeline.Result) runner {
	return func(req stage.Request) (*pipeline.Result, error) {
		if req.StageType == st {
			return result, nil
		}
		return happy(req)
	}
}

var timeZero = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func mustRequest(t *testing.T, job *queue.Job) stage.Request {
	t.Helper()
	req, err := stage.DecodeRequest(job.Payload)
	require.NoError(t, err)
	return req
}

// stageRequest builds a minimal request for constructing results outside a job.
func stageRequest(st pipeline.Stage) stage.Request {
	return stage.Request{
		StageType: st,
		InputRef:  "/staging/in.mp4",
		OutputRef: "/staging/out.mp4",
		Options:   stage.Options{SourceSize: 10 << 20},
	}
}
