package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mediaflow/internal/database"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
)

// Queue is the durable job queue.
type Queue struct {
	db       *database.DB
	notifier Notifier
	now      func() time.Time
}

// Option customizes a Queue.
type Option func(*Queue)

// WithNotifier sets the wakeup channel used after enqueue.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		if n != nil {
			q.notifier = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New wraps an open database.
func New(db *database.DB, opts ...Option) *Queue {
	q := &Queue{db: db, notifier: NewLocalNotifier(), now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notifier returns the queue's wakeup notifier.
func (q *Queue) Notifier() Notifier { return q.notifier }

// Enqueue inserts a job. Enqueueing an id that already exists is a no-op and
// reports created=false.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (bool, error) {
	if req.ID == "" || req.Stage == "" || req.ProcessID == "" {
		return false, services.Wrap(services.ErrValidation, "queue", "enqueue", "id, stage and process id are required", nil)
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 1
	}
	now := q.now().UTC()
	runAt := req.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	payload := string(req.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := q.db.Exec(ctx,
		`INSERT INTO jobs (id, stage, process_id, unit, payload, status, attempts, max_attempts, run_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
         ON CONFLICT(id) DO NOTHING`,
		req.ID, string(req.Stage), req.ProcessID, req.Unit, payload, string(StatusPending), req.MaxAttempts,
		database.FormatTime(runAt), database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "queue", "enqueue", string(req.Stage), err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.notifier.Notify(ctx, req.Stage)
	}
	return n > 0, nil
}

// Claim leases the oldest runnable job on one of the given stages. It
// returns nil when nothing is runnable.
func (q *Queue) Claim(ctx context.Context, stages []pipeline.Stage, lease func(pipeline.Stage) time.Duration) (*Job, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	var claimed *Job
	err := q.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := q.now().UTC()
		args := make([]any, 0, len(stages)+2)
		args = append(args, string(StatusPending), database.FormatTime(now))
		for _, stage := range stages {
			args = append(args, string(stage))
		}
		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND run_at <= ? AND stage IN ("+makePlaceholders(len(stages))+") ORDER BY run_at, created_at LIMIT 1",
			args...,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		locked := now.Add(lease(job.Stage))
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, locked_until = ?, started_at = ?, finished_at = NULL, updated_at = ? WHERE id = ?`,
			string(StatusRunning), database.FormatTime(locked), database.FormatTime(now), database.FormatTime(now), job.ID,
		); err != nil {
			return err
		}
		job.Status = StatusRunning
		job.Attempts++
		job.LockedUntil = &locked
		job.StartedAt = &now
		job.FinishedAt = nil
		job.UpdatedAt = now
		claimed = job
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "claim", "", err)
	}
	return claimed, nil
}

// Heartbeat extends the lease on a running job.
func (q *Queue) Heartbeat(ctx context.Context, id string, lease time.Duration) error {
	now := q.now().UTC()
	_, err := q.db.Exec(ctx,
		`UPDATE jobs SET locked_until = ?, updated_at = ? WHERE id = ? AND status = ?`,
		database.FormatTime(now.Add(lease)), database.FormatTime(now), id, string(StatusRunning),
	)
	return err
}

// Complete stores the job's return value. The first stored result wins; a
// redelivered job that completes again does not overwrite it.
func (q *Queue) Complete(ctx context.Context, id string, result []byte) error {
	now := database.FormatTime(q.now())
	_, err := q.db.Exec(ctx,
		`UPDATE jobs SET status = ?, result = ?, locked_until = NULL, last_error = NULL, finished_at = ?, updated_at = ?
         WHERE id = ? AND status != ?`,
		string(StatusSucceeded), string(result), now, now, id, string(StatusSucceeded),
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "complete", id, err)
	}
	return nil
}

// Retry returns a job to pending with a delayed run time.
func (q *Queue) Retry(ctx context.Context, id, message string, runAt time.Time) error {
	now := database.FormatTime(q.now())
	_, err := q.db.Exec(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, run_at = ?, locked_until = NULL, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(StatusPending), message, database.FormatTime(runAt), now, now, id, string(StatusRunning),
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "retry", id, err)
	}
	return nil
}

// Fail marks a job permanently failed.
func (q *Queue) Fail(ctx context.Context, id, message string) error {
	now := database.FormatTime(q.now())
	_, err := q.db.Exec(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, locked_until = NULL, finished_at = ?, updated_at = ?
         WHERE id = ? AND status != ?`,
		string(StatusFailed), message, now, now, id, string(StatusSucceeded),
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "fail", id, err)
	}
	return nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.SQL().QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get", "job "+id, nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "get", id, err)
	}
	return job, nil
}

// StoredResult returns the retained return value of a succeeded job.
// found is false when the job is missing or has not succeeded.
func (q *Queue) StoredResult(ctx context.Context, id string) ([]byte, bool, error) {
	var (
		status string
		result sql.NullString
	)
	err := q.db.SQL().QueryRowContext(ctx, "SELECT status, result FROM jobs WHERE id = ?", id).Scan(&status, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "queue", "stored result", id, err)
	}
	if Status(status) != StatusSucceeded || !result.Valid || result.String == "" {
		return nil, false, nil
	}
	return []byte(result.String), true, nil
}

// ReclaimExpired returns running jobs whose lease elapsed to pending, or
// fails them when the attempt budget is spent. The affected jobs are
// returned with their new status.
func (q *Queue) ReclaimExpired(ctx context.Context, backoff func(attempt int) time.Duration) ([]Job, error) {
	var reclaimed []Job
	err := q.db.WithTx(ctx, func(tx *sql.Tx) error {
		reclaimed = reclaimed[:0]
		now := q.now().UTC()
		rows, err := tx.QueryContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND locked_until IS NOT NULL AND locked_until < ?",
			string(StatusRunning), database.FormatTime(now),
		)
		if err != nil {
			return err
		}
		var expired []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, job)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		const message = "lease expired before the job reported"
		for _, job := range expired {
			job.LastError = message
			job.LockedUntil = nil
			if job.ExhaustedAttempts() {
				job.Status = StatusFailed
				job.FinishedAt = &now
			} else {
				job.Status = StatusPending
				job.RunAt = now.Add(backoff(job.Attempts))
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, last_error = ?, run_at = ?, locked_until = NULL, finished_at = ?, updated_at = ? WHERE id = ?`,
				string(job.Status), message, database.FormatTime(job.RunAt), database.NullableTime(job.FinishedAt), database.FormatTime(now), job.ID,
			); err != nil {
				return err
			}
			reclaimed = append(reclaimed, *job)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "reclaim", "", err)
	}
	return reclaimed, nil
}
