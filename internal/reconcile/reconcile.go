package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/staging"
	"mediaflow/internal/store"
	"mediaflow/internal/workflow"
)

// Actions recorded in metrics and logs.
const (
	ActionWriteBack     = "write_back"
	ActionReenqueue     = "reenqueue"
	ActionRecordFailure = "record_failure"
	ActionInvalid       = "invalid_result"
)

// Report summarizes one sweep.
type Report struct {
	Candidates       int `json:"candidates"`
	WrittenBack      int `json:"writtenBack"`
	Reenqueued       int `json:"reenqueued"`
	FailuresRecorded int `json:"failuresRecorded"`
	Invalid          int `json:"invalid"`
	Skipped          int `json:"skipped"`
	Errors           int `json:"errors"`
	StagingRemoved   int `json:"stagingRemoved"`
}

// Changed reports whether the sweep repaired anything.
func (r Report) Changed() bool {
	return r.WrittenBack+r.Reenqueued+r.FailuresRecorded > 0
}

// Reconciler runs reconciliation sweeps.
type Reconciler struct {
	cfg     *config.Config
	store   *store.Store
	queue   *queue.Queue
	coord   *workflow.Coordinator
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides the timestamp source used for the idle cutoff.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a reconciler.
func New(cfg *config.Config, st *store.Store, q *queue.Queue, coord *workflow.Coordinator, logger *slog.Logger, opts ...Option) (*Reconciler, error) {
	if cfg == nil || st == nil || q == nil || coord == nil {
		return nil, errors.New("reconciler requires config, store, queue and coordinator")
	}
	r := &Reconciler{
		cfg:    cfg,
		store:  st,
		queue:  q,
		coord:  coord,
		logger: logging.NewComponentLogger(logger, "reconciler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run sweeps once immediately and then on every reconcile interval until ctx
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.cfg.ReconcileInterval()
	if interval <= 0 {
		return errors.New("reconcile interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(r.logger, "reconciliation sweep failed", "reconcile_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access; the next sweep retries"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps processes that have been idle for at least one reconcile
// interval and still have an issued stage without a recorded outcome.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	cutoff := r.now().Add(-r.cfg.ReconcileInterval())
	ids, err := r.store.ReconcileCandidates(ctx, cutoff, uint64(max(r.cfg.Workflow.ReconcileBatchSize, 0)))
	if err != nil {
		return report, services.Wrap(services.ErrTransient, "reconcile", "candidates", "", err)
	}
	report.Candidates = len(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		r.reconcileProcess(ctx, id, &report)
	}
	report.StagingRemoved = r.pruneStaging(ctx)
	if report.Changed() || report.Invalid > 0 || report.Errors > 0 {
		r.logger.Info("reconciliation sweep finished",
			logging.String(logging.FieldEventType, "reconcile_sweep"),
			logging.Int("candidates", report.Candidates),
			logging.Int("written_back", report.WrittenBack),
			logging.Int("reenqueued", report.Reenqueued),
			logging.Int("failures_recorded", report.FailuresRecorded),
			logging.Int("invalid", report.Invalid),
			logging.Int("errors", report.Errors),
			logging.Int("staging_removed", report.StagingRemoved),
		)
	} else {
		r.logger.Debug("reconciliation sweep found nothing to repair",
			logging.String(logging.FieldEventType, "reconcile_sweep"),
			logging.Int("candidates", report.Candidates),
		)
	}
	return report, nil
}

// pruneStaging removes staging directories left behind by deleted or
// terminal processes once they age past the retention window.
func (r *Reconciler) pruneStaging(ctx context.Context) int {
	lookup := func(ctx context.Context, id string) (pipeline.Status, error) {
		p, err := r.store.Load(ctx, id)
		if err != nil {
			return "", err
		}
		return p.Status, nil
	}
	result := staging.CleanOrphaned(ctx, r.cfg.Paths.StagingDir, r.cfg.StagingRetention(), lookup, r.logger)
	return len(result.Removed)
}

func (r *Reconciler) reconcileProcess(ctx context.Context, id string, report *Report) {
	ctx = services.WithProcessID(ctx, id)
	logger := logging.WithContext(ctx, r.logger)
	p, err := r.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			report.Errors++
			logger.Warn("failed to load reconcile candidate", logging.Error(err))
		}
		return
	}
	if len(p.Corrupt) > 0 {
		report.Skipped++
		logging.WarnWithContext(logger, "corrupt process skipped by reconciliation", "reconcile_skipped_corrupt",
			logging.Any("fields", p.Corrupt),
			logging.String(logging.FieldErrorHint, "run mediaflow repair record on the process"),
		)
		return
	}
	if p.Status == pipeline.StatusCompleted {
		report.Skipped++
		return
	}
	for _, st := range r.coord.Graph().Stages() {
		state, ok := p.Stages[st]
		if !ok || state.Status != process.StageIssued {
			continue
		}
		for unit, jobID := range state.Active {
			if state.Units > 1 && state.UnitDone(unit) {
				continue
			}
			r.reconcileJob(ctx, p, st, unit, jobID, report)
		}
	}
}

func (r *Reconciler) reconcileJob(ctx context.Context, p *process.Process, st pipeline.Stage, unit int, jobID string, report *Report) {
	ctx = services.WithStage(services.WithJobID(ctx, jobID), string(st))
	logger := logging.WithContext(ctx, r.logger)
	if p.HasResult(st, unit) {
		// Output already recorded; only the stage bookkeeping lags.
		report.Skipped++
		return
	}

	job, err := r.queue.Get(ctx, jobID)
	if errors.Is(err, services.ErrNotFound) {
		r.reenqueue(ctx, logger, p, st, unit, jobID, report)
		return
	}
	if err != nil {
		report.Errors++
		logger.Warn("failed to read ledger job", logging.Error(err))
		return
	}

	switch job.Status {
	case queue.StatusSucceeded:
		r.writeBack(ctx, logger, job, report)
	case queue.StatusFailed:
		r.recordFailure(ctx, logger, job, report)
	default:
		// Pending or running: the pool still owns it.
	}
}

// writeBack applies a result the worker stored but the coordinator never
// received. Advance is idempotent, so a concurrent write-back is a
// duplicate, not a double apply.
func (r *Reconciler) writeBack(ctx context.Context, logger *slog.Logger, job *queue.Job, report *Report) {
	data, found, err := r.queue.StoredResult(ctx, job.ID)
	if err != nil {
		report.Errors++
		logger.Warn("failed to read stored result", logging.Error(err))
		return
	}
	if !found {
		r.invalid(logger, job, report, "succeeded job has no stored result")
		return
	}
	result, err := pipeline.DecodeResult(data)
	if err == nil && result.Stage != job.Stage {
		err = errors.New("stored result is for stage " + string(result.Stage))
	}
	if err == nil {
		err = result.Validate(r.coord.ValidateOptions())
	}
	if err != nil {
		r.invalid(logger, job, report, err.Error())
		return
	}

	outcome, err := r.coord.Advance(ctx, workflow.Event{
		ProcessID: job.ProcessID,
		Stage:     job.Stage,
		JobID:     job.ID,
		Unit:      job.Unit,
		Attempt:   job.Attempts,
		Result:    &result,
	})
	if err != nil {
		report.Errors++
		logging.WarnWithContext(logger, "stored result write-back failed", "reconcile_write_back_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the process record; the next sweep retries"),
		)
		return
	}
	if outcome == workflow.OutcomeDuplicate || outcome == workflow.OutcomeDiscarded {
		return
	}
	report.WrittenBack++
	r.metrics.Reconciled(ActionWriteBack)
	logger.Info("stored result written back",
		logging.String(logging.FieldEventType, "reconcile_write_back"),
		logging.String("outcome", string(outcome)),
		logging.Int("unit", job.Unit),
	)
}

func (r *Reconciler) invalid(logger *slog.Logger, job *queue.Job, report *Report, reason string) {
	report.Invalid++
	r.metrics.Reconciled(ActionInvalid)
	logging.WarnWithContext(logger, "stored result left for triage", "reconcile_invalid_result",
		logging.String("reason", reason),
		logging.Int("unit", job.Unit),
		logging.String(logging.FieldErrorHint, "inspect the job with mediaflow queue and use repair force-advance"),
		logging.String(logging.FieldImpact, "stage stays issued"),
	)
}

// recordFailure delivers a final failure that never reached the record,
// for example when the worker crashed between failing the job and
// reporting it.
func (r *Reconciler) recordFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, report *Report) {
	message := job.LastError
	if message == "" {
		message = "job failed without a recorded error"
	}
	outcome, err := r.coord.RecordError(ctx, workflow.Event{
		ProcessID: job.ProcessID,
		Stage:     job.Stage,
		JobID:     job.ID,
		Unit:      job.Unit,
		Attempt:   job.Attempts,
		Failure: &stage.Failure{
			Message:  message,
			Category: services.CategoryStage,
			Details:  map[string]any{"source": "reconciliation"},
		},
		Final: true,
	})
	if err != nil {
		report.Errors++
		logger.Warn("failed to record job failure", logging.Error(err))
		return
	}
	if outcome != workflow.OutcomeFailed {
		return
	}
	report.FailuresRecorded++
	r.metrics.Reconciled(ActionRecordFailure)
	logger.Info("unrecorded job failure written to the error ledger",
		logging.String(logging.FieldEventType, "reconcile_record_failure"),
		logging.String("error_message", message),
	)
}

// reenqueue restores a queue row lost between the ledger commit and the
// insert. The payload is rebuilt from the record under the original id.
func (r *Reconciler) reenqueue(ctx context.Context, logger *slog.Logger, p *process.Process, st pipeline.Stage, unit int, jobID string, report *Report) {
	if p.Status == pipeline.StatusFailed {
		report.Skipped++
		return
	}
	req, err := r.coord.RequestFor(p, st, unit, jobID)
	if err != nil {
		report.Errors++
		logging.WarnWithContext(logger, "could not rebuild lost job", "reconcile_reenqueue_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "use repair force-advance to reissue the stage"),
		)
		return
	}
	created, err := r.queue.Enqueue(ctx, req)
	if err != nil {
		report.Errors++
		logger.Warn("failed to re-enqueue lost job", logging.Error(err))
		return
	}
	if !created {
		return
	}
	report.Reenqueued++
	r.metrics.Reconciled(ActionReenqueue)
	logger.Info("lost job re-enqueued",
		logging.String(logging.FieldEventType, "reconcile_reenqueue"),
		logging.Int("unit", unit),
	)
}
