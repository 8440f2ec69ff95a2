package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/store"
)

// MarkCompleted moves a process to completed after checking every field
// the completed state requires. A refused transition is recorded in the
// error ledger, committed, and returned as a guard error.
func (c *Coordinator) MarkCompleted(ctx context.Context, id string) error {
	return c.complete(ctx, id, "mark_completed", "", false)
}

// ForceComplete is the operator variant of MarkCompleted. It applies the same
// field guard but also accepts a failed process.
func (c *Coordinator) ForceComplete(ctx context.Context, id, actor string) error {
	return c.complete(ctx, id, "force_complete", actor, true)
}

func (c *Coordinator) complete(ctx context.Context, id, op, actor string, allowFailed bool) error {
	ctx, logger := c.processLogger(ctx, id, "")
	var (
		missing []string
		changed bool
	)
	updated, err := c.store.Mutate(ctx, id, func(p *process.Process) error {
		missing, changed = nil, false
		now := c.now()
		switch {
		case p.Status == pipeline.StatusCompleted:
			return store.ErrNoChange
		case p.Status == pipeline.StatusFailed && !allowFailed:
			return guardError(op, "process %s failed; use force-complete", id)
		}
		if missing = p.MissingForCompletion(c.cfg.Workflow.TitlePlaceholder); len(missing) > 0 {
			recordGuardFailure(p, op, missing, now)
			return nil
		}
		if actor != "" {
			p.AppendHistory(op, process.HistoryForced, "by "+actor, now)
		}
		p.MarkCompleted(op, now)
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, services.ErrGuard) {
			c.metrics.GuardFailure(op)
		}
		return err
	}
	if len(missing) > 0 {
		c.metrics.GuardFailure(op)
		logging.WarnWithContext(logger, "completion refused", "completion_guard_failed",
			logging.Any("missing", missing),
			logging.String(logging.FieldErrorHint, "supply the missing fields with repair force-advance"),
			logging.String(logging.FieldImpact, "process left in its current state"),
		)
		return guardError(op, "missing %s", strings.Join(missing, ", "))
	}
	if changed {
		c.announceCompleted(ctx, logger, id, updated)
		logger.Info("process completed",
			logging.String(logging.FieldEventType, "process_completed"),
			logging.String("operation", op),
			logging.String("actor", actor),
		)
	}
	return nil
}

// ForceAdvance is the operator override for a single stage. With a result
// the stage is recorded as succeeded with that output; without one it is
// re-issued under fresh job ids. Prerequisites must have succeeded and the
// process must not be completed. A failed process is revived.
func (c *Coordinator) ForceAdvance(ctx context.Context, id string, st pipeline.Stage, result *pipeline.Result, actor string) error {
	node, ok := c.graph.Node(st)
	if !ok {
		return services.Wrap(services.ErrValidation, "workflow", "force advance", "unknown stage "+string(st), nil)
	}
	if result != nil {
		if result.Stage != st {
			return services.Wrap(services.ErrValidation, "workflow", "force advance", "result is for stage "+string(result.Stage), nil)
		}
		if err := result.Validate(c.opts); err != nil {
			return services.Wrap(services.ErrValidation, "workflow", "force advance", "", err)
		}
	}
	ctx, logger := c.processLogger(ctx, id, st)
	var (
		jobs      []queue.EnqueueRequest
		completed bool
		missing   []string
	)
	updated, err := c.store.Mutate(ctx, id, func(p *process.Process) error {
		jobs, completed, missing = nil, false, nil
		now := c.now()
		if p.Status == pipeline.StatusCompleted {
			return guardError("force advance", "process %s is completed", id)
		}
		for _, req := range node.Requires {
			if !p.StageSucceeded(req) {
				return guardError("force advance", "stage %s requires %s", st, req)
			}
		}
		wasFailed := p.Status == pipeline.StatusFailed
		before := p.Progress.Percentage

		if result == nil {
			if st == pipeline.StageGenerateEmbedding {
				p.Embedding = nil
			}
			issued, err := c.issue(p, st, now)
			if err != nil {
				return err
			}
			jobs = issued
		} else {
			if err := forceApply(p, node, *result, c.opts, now); err != nil {
				return err
			}
		}
		if wasFailed {
			p.Status = node.Status
			p.Progress.StepDetails = ""
		}
		p.RecomputeProgress(c.weights)
		if !wasFailed && p.Progress.Percentage < before {
			p.Progress.Percentage = before
		}
		p.AppendHistory(st.Step(), process.HistoryForced, "by "+actorName(actor), now)

		if result == nil || !p.StageSucceeded(st) {
			return nil
		}
		next, err := c.plan(p, c.graph.Ready(st, p.StageSucceeded), now)
		if err != nil {
			return err
		}
		jobs = next
		if st == c.graph.Last() {
			if missing = p.MissingForCompletion(c.cfg.Workflow.TitlePlaceholder); len(missing) > 0 {
				recordGuardFailure(p, st.Step(), missing, now)
				return nil
			}
			p.MarkCompleted(st.Step(), now)
			completed = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, services.ErrGuard) {
			c.metrics.GuardFailure("force_advance")
		}
		return err
	}
	logger.Info("stage force-advanced",
		logging.String(logging.FieldEventType, "stage_forced"),
		logging.String("actor", actorName(actor)),
		logging.Bool("with_result", result != nil),
		logging.Int("jobs_issued", len(jobs)),
	)
	if len(missing) > 0 {
		c.metrics.GuardFailure("mark_completed")
	}
	if completed {
		c.announceCompleted(ctx, logger, id, updated)
	}
	c.enqueue(ctx, id, jobs)
	return nil
}

func forceApply(p *process.Process, node pipeline.Node, result pipeline.Result, opts pipeline.ValidateOptions, now time.Time) error {
	if err := checkSegmentIndex(p, result, -1); err != nil {
		return err
	}
	if result.Stage == pipeline.StageGenerateEmbedding {
		p.Embedding = nil
	}
	if err := p.Apply(result, opts); err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "force advance", "", err)
	}
	state := p.Stage(node.Stage)
	if state.Status == process.StageFailed || state.Status == "" {
		state.Status = process.StageIssued
	}
	if !node.FanOut {
		markSucceeded(p, state, node.Stage, now)
		return nil
	}
	if state.Units == 0 {
		state.Units = len(p.Files.Segments)
	}
	if unit := result.Transcript.Index; !state.UnitDone(unit) {
		state.Done = append(state.Done, unit)
	}
	if len(state.Done) >= state.Units {
		markSucceeded(p, state, node.Stage, now)
	}
	return nil
}

func actorName(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return "operator"
}
