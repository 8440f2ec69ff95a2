package workflow

import (
	"context"
	"maps"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/services"
	"mediaflow/internal/store"
)

// RecordError handles a stage failure that exhausted its retries. The
// process moves to failed with exactly one error entry for the stage;
// outputs of stages that already succeeded are kept.
func (c *Coordinator) RecordError(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Failure == nil {
		return "", services.Wrap(services.ErrValidation, "workflow", "record error", "missing failure", nil)
	}
	ctx, logger := c.processLogger(ctx, ev.ProcessID, ev.Stage)
	var (
		outcome   Outcome
		becameBad bool
	)
	_, err := c.store.Mutate(ctx, ev.ProcessID, func(p *process.Process) error {
		outcome, becameBad = "", false
		now := c.now()
		if ev.JobID != "" && !p.LedgerOwns(ev.Stage, ev.JobID) {
			return guardError("record error", "job %s is not in the %s ledger", ev.JobID, ev.Stage)
		}
		if p.Status == pipeline.StatusCompleted {
			outcome = OutcomeLate
			return store.ErrNoChange
		}
		state := p.Stage(ev.Stage)
		if state.Status == process.StageFailed || state.Status == process.StageSucceeded || state.UnitDone(ev.Unit) && state.Units > 1 {
			outcome = OutcomeDuplicate
			return store.ErrNoChange
		}
		state.Status = process.StageFailed
		state.Attempts = max(state.Attempts, ev.Attempt)
		state.LastError = ev.Failure.Message

		details := make(map[string]any, len(ev.Failure.Details)+3)
		maps.Copy(details, ev.Failure.Details)
		if ev.JobID != "" {
			details["jobId"] = ev.JobID
		}
		details["attempts"] = ev.Attempt
		if state.Units > 1 {
			details["unit"] = ev.Unit
		}
		category := ev.Failure.Category
		if category == "" {
			category = services.CategoryStage
		}
		p.AppendError(process.ErrorEntry{
			Step:      ev.Stage.Step(),
			Category:  string(category),
			Message:   ev.Failure.Message,
			Details:   details,
			Timestamp: now,
		})
		if p.Status != pipeline.StatusFailed {
			p.Fail(ev.Stage.Step(), ev.Failure.Message, now)
			becameBad = true
		} else {
			p.AppendHistory(ev.Stage.Step(), process.HistoryFailed, ev.Failure.Message, now)
		}
		outcome = OutcomeFailed
		return nil
	})
	if err != nil {
		if notFound(err) {
			logger.Info("failure for deleted process discarded",
				logging.String(logging.FieldEventType, "failure_discarded"),
				logging.String(logging.FieldJobID, ev.JobID),
			)
			return OutcomeDiscarded, nil
		}
		return "", err
	}
	switch outcome {
	case OutcomeDuplicate, OutcomeLate:
		c.metrics.DuplicateEvent(string(ev.Stage))
		logger.Info("stale stage failure ignored",
			logging.String(logging.FieldEventType, "duplicate_event"),
			logging.String(logging.FieldJobID, ev.JobID),
		)
	default:
		if becameBad {
			c.announceFailed(ctx, logger, ev.ProcessID, ev.Stage, ev.Failure.Message)
		}
		logging.ErrorWithContext(logger, "stage failed; process marked failed", "stage_failed",
			logging.String(logging.FieldJobID, ev.JobID),
			logging.Int("attempts", ev.Attempt),
			logging.String("error_message", ev.Failure.Message),
			logging.String("category", string(ev.Failure.Category)),
			logging.String(logging.FieldErrorHint, "inspect processingErrors, then use repair force-advance to retry the stage"),
		)
	}
	return outcome, nil
}

// NoteAttemptFailure records a failed attempt that will be retried. Only the
// stage bookkeeping changes; the error ledger is written once the retry
// budget is spent.
func (c *Coordinator) NoteAttemptFailure(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Failure == nil {
		return "", services.Wrap(services.ErrValidation, "workflow", "note failure", "missing failure", nil)
	}
	ctx, logger := c.processLogger(ctx, ev.ProcessID, ev.Stage)
	_, err := c.store.Mutate(ctx, ev.ProcessID, func(p *process.Process) error {
		if p.Terminal() || !p.StageIssued(ev.Stage) {
			return store.ErrNoChange
		}
		state := p.Stage(ev.Stage)
		if state.Status != process.StageIssued {
			return store.ErrNoChange
		}
		state.Attempts = max(state.Attempts, ev.Attempt)
		state.LastError = ev.Failure.Message
		return nil
	})
	if err != nil {
		if notFound(err) {
			return OutcomeDiscarded, nil
		}
		return "", err
	}
	logging.WarnWithContext(logger, "stage attempt failed; retry scheduled", "stage_retry",
		logging.String(logging.FieldJobID, ev.JobID),
		logging.Int("attempt", ev.Attempt),
		logging.String("error_message", ev.Failure.Message),
		logging.String(logging.FieldErrorHint, "transient failures are retried with backoff"),
	)
	return OutcomeApplied, nil
}
