package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/store"
)

// Event is one stage-completion or stage-failure notification.
type Event struct {
	ProcessID string
	Stage     pipeline.Stage
	JobID     string
	Unit      int
	Attempt   int
	Result    *pipeline.Result
	Failure   *stage.Failure
	// Final marks a failure after the retry budget is spent (or a
	// non-retryable failure). Earlier failures only update attempt
	// bookkeeping.
	Final bool
}

// Outcome describes what an event did to the record.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeLate      Outcome = "late"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeCompleted Outcome = "completed"
	OutcomeGuarded   Outcome = "guard_failure"
	OutcomeFailed    Outcome = "failed"
)

// HandleEvent routes an event to Advance or the failure path.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	switch {
	case ev.Result != nil:
		return c.Advance(ctx, ev)
	case ev.Failure != nil && ev.Final:
		return c.RecordError(ctx, ev)
	case ev.Failure != nil:
		return c.NoteAttemptFailure(ctx, ev)
	default:
		return "", services.Wrap(services.ErrValidation, "workflow", "event", "event carries neither result nor failure", nil)
	}
}

// Advance applies a stage result, records progress and issues every stage
// whose prerequisites are now all satisfied, in one atomic update.
func (c *Coordinator) Advance(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Result == nil {
		return "", services.Wrap(services.ErrValidation, "workflow", "advance", "missing result", nil)
	}
	if ev.Result.Stage != ev.Stage {
		return "", services.Wrap(services.ErrValidation, "workflow", "advance", "result stage "+string(ev.Result.Stage)+" does not match "+string(ev.Stage), nil)
	}
	if err := ev.Result.Validate(c.opts); err != nil {
		return "", services.Wrap(services.ErrValidation, "workflow", "advance", "", err)
	}
	node, ok := c.graph.Node(ev.Stage)
	if !ok {
		return "", guardError("advance", "unknown stage %q", ev.Stage)
	}

	ctx, logger := c.processLogger(ctx, ev.ProcessID, ev.Stage)
	var (
		outcome Outcome
		jobs    []queue.EnqueueRequest
		missing []string
	)
	p, err := c.store.Mutate(ctx, ev.ProcessID, func(p *process.Process) error {
		outcome, jobs, missing = "", nil, nil
		now := c.now()

		if ev.JobID != "" && !p.LedgerOwns(ev.Stage, ev.JobID) {
			return guardError("advance", "job %s is not in the %s ledger", ev.JobID, ev.Stage)
		}
		if !p.StageIssued(ev.Stage) {
			return guardError("advance", "stage %s was never issued", ev.Stage)
		}
		state := p.Stage(ev.Stage)
		if state.Status == process.StageSucceeded || (node.FanOut && state.UnitDone(ev.Unit)) {
			outcome = OutcomeDuplicate
			return store.ErrNoChange
		}
		if node.FanOut && (ev.Unit < 0 || ev.Unit >= state.Units) {
			return guardError("advance", "unit %d outside %d issued units", ev.Unit, state.Units)
		}
		if err := checkSegmentIndex(p, *ev.Result, ev.Unit); err != nil {
			return err
		}

		switch p.Status {
		case pipeline.StatusCompleted:
			outcome = OutcomeLate
			return store.ErrNoChange
		case pipeline.StatusFailed:
			// Keep the output for diagnostics; nothing further is issued.
			if err := p.Apply(*ev.Result, c.opts); err != nil && !errors.Is(err, process.ErrEmbeddingAlreadySet) {
				return services.Wrap(services.ErrValidation, "workflow", "advance", "", err)
			}
			if node.FanOut {
				state.Done = append(state.Done, ev.Unit)
			}
			if !node.FanOut || len(state.Done) == state.Units {
				state.Status = process.StageSucceeded
				completed := now.UTC()
				state.CompletedAt = &completed
				state.Active = nil
			}
			p.AppendHistory(ev.Stage.Step(), process.HistoryLate, "", now)
			outcome = OutcomeLate
			return nil
		}

		if err := p.Apply(*ev.Result, c.opts); err != nil {
			if errors.Is(err, process.ErrEmbeddingAlreadySet) {
				outcome = OutcomeDuplicate
				return store.ErrNoChange
			}
			return services.Wrap(services.ErrValidation, "workflow", "advance", "", err)
		}
		p.AddProgress(c.weights.Unit(ev.Stage, state.Units))
		state.Attempts = max(state.Attempts, ev.Attempt)
		state.LastError = ""

		if node.FanOut {
			state.Done = append(state.Done, ev.Unit)
			if len(state.Done) < state.Units {
				p.AppendHistory(ev.Stage.Step(), process.HistoryProgress, "", now)
				outcome = OutcomeApplied
				return nil
			}
		}
		finishStage(p, state, ev.Stage, now)
		outcome = OutcomeApplied

		if ev.Stage != c.graph.Last() {
			p.AppendHistory(ev.Stage.Step(), process.HistorySucceeded, "", now)
			next, err := c.plan(p, c.graph.Ready(ev.Stage, p.StageSucceeded), now)
			if err != nil {
				return err
			}
			jobs = next
			return nil
		}
		if missing = p.MissingForCompletion(c.cfg.Workflow.TitlePlaceholder); len(missing) > 0 {
			p.AppendHistory(ev.Stage.Step(), process.HistorySucceeded, "", now)
			recordGuardFailure(p, ev.Stage.Step(), missing, now)
			outcome = OutcomeGuarded
			return nil
		}
		// The last stage's transition is the process completing.
		p.MarkCompleted(ev.Stage.Step(), now)
		outcome = OutcomeCompleted
		return nil
	})
	if err != nil {
		if notFound(err) {
			logger.Info("result for deleted process discarded",
				logging.String(logging.FieldEventType, "result_discarded"),
				logging.String(logging.FieldJobID, ev.JobID),
			)
			return OutcomeDiscarded, nil
		}
		if errors.Is(err, services.ErrGuard) {
			c.metrics.GuardFailure("advance")
		}
		return "", err
	}

	switch outcome {
	case OutcomeDuplicate:
		c.metrics.DuplicateEvent(string(ev.Stage))
		logger.Info("duplicate stage event ignored",
			logging.String(logging.FieldEventType, "duplicate_event"),
			logging.String(logging.FieldJobID, ev.JobID),
			logging.Int("unit", ev.Unit),
		)
	case OutcomeLate:
		logger.Info("result recorded after terminal state",
			logging.String(logging.FieldEventType, "late_result"),
			logging.String(logging.FieldJobID, ev.JobID),
			logging.String("process_status", string(p.Status)),
		)
	case OutcomeGuarded:
		c.metrics.GuardFailure("mark_completed")
		logging.WarnWithContext(logger, "completion guard blocked finalize", "completion_guard_failed",
			logging.Any("missing", missing),
			logging.String(logging.FieldErrorHint, "inspect the process record and use repair force-complete once fields are present"),
			logging.String(logging.FieldImpact, "process stays in finalizing"),
		)
	case OutcomeCompleted:
		c.announceCompleted(ctx, logger, ev.ProcessID, p)
		logger.Info("process completed",
			logging.String(logging.FieldEventType, "process_completed"),
			logging.Float64("progress", p.Progress.Percentage),
		)
	default:
		logger.Debug("stage result applied",
			logging.String(logging.FieldEventType, "stage_result_applied"),
			logging.String(logging.FieldJobID, ev.JobID),
			logging.Int("unit", ev.Unit),
			logging.Float64("progress", p.Progress.Percentage),
		)
	}
	c.enqueue(ctx, ev.ProcessID, jobs)
	return outcome, nil
}

func markSucceeded(p *process.Process, state *process.StageState, st pipeline.Stage, now time.Time) {
	finishStage(p, state, st, now)
	p.AppendHistory(st.Step(), process.HistorySucceeded, "", now)
}

func finishStage(p *process.Process, state *process.StageState, st pipeline.Stage, now time.Time) {
	completed := now.UTC()
	state.Status = process.StageSucceeded
	state.CompletedAt = &completed
	state.Active = nil
	p.Progress.CurrentStep = st.Step()
}

// checkSegmentIndex rejects a transcript whose segment index disagrees with
// the job unit or with the segments recorded by segment-audio. unit < 0
// skips the unit comparison.
func checkSegmentIndex(p *process.Process, result pipeline.Result, unit int) error {
	if result.Stage != pipeline.StageTranscribeSegment || result.Transcript == nil {
		return nil
	}
	idx := result.Transcript.Index
	if unit >= 0 && idx != unit {
		return services.Wrap(services.ErrValidation, "workflow", "transcript",
			fmt.Sprintf("segment index %d does not match job unit %d", idx, unit), nil)
	}
	if idx < 0 || idx >= len(p.Files.Segments) {
		return services.Wrap(services.ErrValidation, "workflow", "transcript",
			fmt.Sprintf("segment index %d outside %d recorded segments", idx, len(p.Files.Segments)), nil)
	}
	return nil
}

func recordGuardFailure(p *process.Process, step string, missing []string, now time.Time) {
	msg := "completion blocked: missing " + strings.Join(missing, ", ")
	p.AppendError(process.ErrorEntry{
		Step:      step,
		Category:  string(services.CategoryGuard),
		Message:   msg,
		Details:   map[string]any{"missing": missing},
		Timestamp: now,
	})
	p.Progress.StepDetails = msg
	p.AppendHistory(step, process.HistoryBlocked, msg, now)
}
