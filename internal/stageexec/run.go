package stageexec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/workflow"
)

// RunJob executes one claimed job and reports its outcome. Any failure
// inside is contained here; a worker never takes the pool down.
func (p *Pool) RunJob(ctx context.Context, t pipeline.Tier, executor Executor, job *queue.Job) {
	ctx = jobContext(ctx, job.ProcessID, job.ID, job.Stage, t)
	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()
	done := p.metrics.JobStarted(string(t))
	defer done()

	req, err := stage.DecodeRequest(job.Payload)
	if err != nil {
		p.finishFailure(ctx, logger, t, job, stage.Fail(services.Wrap(services.ErrCorrupt, string(job.Stage), "decode payload", "", err), nil), started)
		return
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", job.Attempts),
		logging.Int("unit", job.Unit),
		logging.String("input", req.InputRef),
	)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout(string(job.Stage)))
	var hb sync.WaitGroup
	hb.Add(1)
	go p.heartbeat(runCtx, &hb, logger, job)
	result, runErr := executor.Execute(runCtx, req)
	cancel()
	hb.Wait()

	if ctx.Err() != nil {
		// Shutdown: hand the job back without spending an attempt on the
		// ledger; the lease reaper would otherwise return it later.
		if err := p.queue.Retry(context.WithoutCancel(ctx), job.ID, "worker shutdown", time.Now()); err != nil {
			logger.Warn("failed to release job on shutdown", logging.Error(err))
		}
		return
	}
	if runErr == nil {
		runErr = p.checkResult(job, result)
	}
	if runErr != nil {
		p.finishFailure(ctx, logger, t, job, failureFor(runErr), started)
		return
	}
	p.finishSuccess(ctx, logger, t, job, result, started)
}

func (p *Pool) checkResult(job *queue.Job, result pipeline.Result) error {
	if result.Stage != job.Stage {
		return services.Wrap(services.ErrValidation, string(job.Stage), "result", "handler returned a "+string(result.Stage)+" result", nil)
	}
	if err := result.Validate(p.coord.ValidateOptions()); err != nil {
		return services.Wrap(services.ErrValidation, string(job.Stage), "result", "", err)
	}
	return nil
}

func (p *Pool) finishSuccess(ctx context.Context, logger *slog.Logger, t pipeline.Tier, job *queue.Job, result pipeline.Result, started time.Time) {
	payload, err := result.Encode()
	if err == nil {
		// The stored result lets reconciliation finish the write-back if
		// the coordinator update below is lost.
		err = p.queue.Complete(ctx, job.ID, payload)
	}
	if err != nil {
		logger.Error("failed to store job result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_complete_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}
	p.metrics.JobFinished(string(job.Stage), string(t), metrics.OutcomeSucceeded, time.Since(started))
	outcome, err := p.coord.HandleEvent(ctx, workflow.Event{
		ProcessID: job.ProcessID,
		Stage:     job.Stage,
		JobID:     job.ID,
		Unit:      job.Unit,
		Attempt:   job.Attempts,
		Result:    &result,
	})
	if err != nil {
		logging.ErrorWithContext(logger, "stage result not applied", "advance_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "reconciliation retries the write-back from the stored result"),
		)
		return
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("outcome", string(outcome)),
		logging.Duration("elapsed", time.Since(started)),
	)
}

func (p *Pool) finishFailure(ctx context.Context, logger *slog.Logger, t pipeline.Tier, job *queue.Job, failure *stage.Failure, started time.Time) {
	final := !failure.Retryable || job.ExhaustedAttempts()
	var err error
	outcome := metrics.OutcomeFailed
	if final {
		err = p.queue.Fail(ctx, job.ID, failure.Message)
	} else {
		outcome = metrics.OutcomeRetried
		err = p.queue.Retry(ctx, job.ID, failure.Message, time.Now().Add(p.cfg.RetryBackoff(job.Attempts)))
	}
	if err != nil {
		logger.Error("failed to persist job failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_failure_persist_failed"),
			logging.String(logging.FieldErrorHint, "the lease reaper returns the job once its lease expires"),
		)
		return
	}
	p.metrics.JobFinished(string(job.Stage), string(t), outcome, time.Since(started))
	logging.WarnWithContext(logger, "stage attempt failed", "stage_failure",
		logging.String("error_message", failure.Message),
		logging.String("category", string(failure.Category)),
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", job.MaxAttempts),
		logging.Bool("final", final),
		logging.String(logging.FieldImpact, impactFor(final)),
	)
	if _, err := p.coord.HandleEvent(ctx, workflow.Event{
		ProcessID: job.ProcessID,
		Stage:     job.Stage,
		JobID:     job.ID,
		Unit:      job.Unit,
		Attempt:   job.Attempts,
		Failure:   failure,
		Final:     final,
	}); err != nil {
		logging.ErrorWithContext(logger, "stage failure not recorded", "record_error_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "reconciliation records failed jobs on its next sweep"),
		)
	}
}

func impactFor(final bool) string {
	if final {
		return "process marked failed"
	}
	return "job retried after backoff"
}

func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, job *queue.Job) {
	defer wg.Done()
	lease := p.lease(job.Stage)
	interval := lease / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, job.ID, lease); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("job heartbeat failed", logging.Error(err))
			}
		}
	}
}

func (p *Pool) runReaper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.reap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Reap(ctx)
		}
	}
}

// Reap returns jobs with expired leases to the queue. Jobs whose attempt
// budget is spent are failed and reported to the coordinator.
func (p *Pool) Reap(ctx context.Context) {
	jobs, err := p.queue.ReclaimExpired(ctx, p.cfg.RetryBackoff)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("reclaim expired leases failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lease_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return
	}
	for _, job := range jobs {
		logger := logging.WithContext(jobContext(ctx, job.ProcessID, job.ID, job.Stage, ""), p.logger)
		failure := &stage.Failure{
			Message:   "worker lease expired",
			Category:  services.CategoryTransient,
			Retryable: true,
		}
		final := job.Status == queue.StatusFailed
		logger.Info("reclaimed expired job lease",
			logging.String(logging.FieldEventType, "lease_reclaimed"),
			logging.String("status", string(job.Status)),
			logging.Int("attempt", job.Attempts),
		)
		if _, err := p.coord.HandleEvent(ctx, workflow.Event{
			ProcessID: job.ProcessID,
			Stage:     job.Stage,
			JobID:     job.ID,
			Unit:      job.Unit,
			Attempt:   job.Attempts,
			Failure:   failure,
			Final:     final,
		}); err != nil {
			logger.Warn("failed to record lease expiry", logging.Error(err))
		}
	}
}
