package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// plan records issuance for each stage on p and returns the queue rows to
// insert once the record commits. Stages already issued or succeeded are
// skipped, so re-evaluating a join never issues twice.
func (c *Coordinator) plan(p *process.Process, stages []pipeline.Stage, now time.Time) ([]queue.EnqueueRequest, error) {
	var jobs []queue.EnqueueRequest
	for _, st := range stages {
		if p.StageSucceeded(st) || p.StageIssued(st) {
			continue
		}
		issued, err := c.issue(p, st, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, issued...)
	}
	return jobs, nil
}

// issue generates fresh job ids for a stage, writes them to the ledger and
// builds their payloads. Prerequisites must all have succeeded.
func (c *Coordinator) issue(p *process.Process, st pipeline.Stage, now time.Time) ([]queue.EnqueueRequest, error) {
	node, ok := c.graph.Node(st)
	if !ok {
		return nil, guardError("issue", "unknown stage %q", st)
	}
	for _, req := range node.Requires {
		if !p.StageSucceeded(req) {
			return nil, guardError("issue", "stage %s requires %s", st, req)
		}
	}
	units := 1
	if node.FanOut {
		units = len(p.Files.Segments)
		if units == 0 {
			return nil, guardError("issue", "stage %s has no segments to fan out over", st)
		}
	}
	ids := make([]string, units)
	jobs := make([]queue.EnqueueRequest, 0, units)
	for unit := range units {
		ids[unit] = c.newID()
		job, err := c.RequestFor(p, st, unit, ids[unit])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	p.RecordIssue(st, ids, units, now)
	if node.Status.Rank() > p.Status.Rank() {
		p.Status = node.Status
	}
	p.Progress.CurrentStep = st.Step()
	p.Progress.StepDetails = ""
	return jobs, nil
}

// RequestFor rebuilds the queue row for one issued job. The payload is a pure
// function of the record, so reconciliation can re-enqueue a lost row with
// the same content.
func (c *Coordinator) RequestFor(p *process.Process, st pipeline.Stage, unit int, jobID string) (queue.EnqueueRequest, error) {
	req, err := c.buildRequest(p, st, unit)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	req.JobID = jobID
	payload, err := req.Encode()
	if err != nil {
		return queue.EnqueueRequest{}, fmt.Errorf("encode %s request: %w", st, err)
	}
	return queue.EnqueueRequest{
		ID:          jobID,
		Stage:       st,
		ProcessID:   p.ID,
		Unit:        unit,
		Payload:     payload,
		MaxAttempts: c.cfg.Workflow.MaxAttempts,
	}, nil
}

func (c *Coordinator) buildRequest(p *process.Process, st pipeline.Stage, unit int) (stage.Request, error) {
	staging := filepath.Join(c.cfg.Paths.StagingDir, p.ID)
	req := stage.Request{
		ProcessID:     p.ID,
		StageType:     st,
		Unit:          unit,
		CorrelationID: p.CorrelationID,
	}
	switch st {
	case pipeline.StageCompressVideo:
		req.InputRef = p.Files.Original.Path
		req.OutputRef = filepath.Join(staging, "video.mp4")
		req.Options.SourceSize = p.Files.Original.Size
	case pipeline.StageExtractAudio:
		req.InputRef = p.Files.Original.Path
		req.OutputRef = filepath.Join(staging, "audio.wav")
	case pipeline.StageSegmentAudio:
		if p.Files.Audio == nil {
			return req, guardError("issue", "segment-audio requires extracted audio")
		}
		req.InputRef = p.Files.Audio.Path
		req.OutputRef = filepath.Join(staging, "segments")
		req.Options.Duration = p.Files.Audio.Duration
	case pipeline.StageTranscribeSegment:
		if unit < 0 || unit >= len(p.Files.Segments) {
			return req, guardError("issue", "segment %d out of range", unit)
		}
		seg := p.Files.Segments[unit]
		req.InputRef = seg.Path
		req.OutputRef = filepath.Join(staging, "transcripts")
		req.Options.Segment = &seg
	case pipeline.StageGenerateTags, pipeline.StageGenerateTitle, pipeline.StageGenerateTodo, pipeline.StageGenerateEmbedding:
		req.Options.Transcript = p.Transcript.FullText
	case pipeline.StageUploadRemote:
		req.InputRef = p.Files.Processed.Path
		req.OutputRef = objectKey(p)
	case pipeline.StageFinalize:
		req.InputRef = p.Files.Processed.Path
		req.OutputRef = filepath.Join(c.cfg.Paths.OutputDir, p.ID+filepath.Ext(p.Files.Processed.Path))
		req.Options.StorageType = p.Files.Processed.StorageType
		req.Options.RemoteLocation = p.Files.Processed.RemoteLocation
	default:
		return req, guardError("issue", "no request builder for stage %q", st)
	}
	return req, nil
}

func objectKey(p *process.Process) string {
	tenant := p.Tenant
	if tenant == "" {
		tenant = "default"
	}
	return tenant + "/" + p.ID + "/" + filepath.Base(p.Files.Processed.Path)
}

// enqueue inserts planned jobs after their ledger entries committed. Insert
// failures are left for the reconciliation sweep.
func (c *Coordinator) enqueue(ctx context.Context, processID string, jobs []queue.EnqueueRequest) {
	if len(jobs) == 0 {
		return
	}
	logger := logging.WithContext(services.WithProcessID(ctx, processID), c.logger)
	exists, err := c.store.Exists(ctx, processID)
	if err == nil && !exists {
		logger.Info("process deleted before enqueue; dropping jobs",
			logging.String(logging.FieldEventType, "enqueue_skipped_deleted"),
			logging.Int("jobs", len(jobs)),
		)
		return
	}
	for _, job := range jobs {
		created, err := c.queue.Enqueue(ctx, job)
		if err != nil {
			logger.Warn("enqueue failed; reconciliation will re-enqueue",
				logging.String(logging.FieldEventType, "enqueue_failed"),
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldStage, string(job.Stage)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "stage delayed until the next reconciliation sweep"),
			)
			continue
		}
		logger.Debug("stage job enqueued",
			logging.String(logging.FieldEventType, "job_enqueued"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(job.Stage)),
			logging.Int("unit", job.Unit),
			logging.Bool("created", created),
		)
	}
}
