package queue

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"mediaflow/internal/database"
	"mediaflow/internal/pipeline"
)

// List returns jobs matching the filter, newest first.
func (q *Queue) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	query := sq.Select(jobColumns).From("jobs").OrderBy("created_at DESC", "id")
	if filter.Stage != "" {
		query = query.Where(sq.Eq{"stage": string(filter.Stage)})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where(sq.Eq{"status": statuses})
	}
	if filter.ProcessID != "" {
		query = query.Where(sq.Eq{"process_id": filter.ProcessID})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job query: %w", err)
	}
	rows, err := q.db.SQL().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats counts jobs per stage and status.
func (q *Queue) Stats(ctx context.Context) (map[pipeline.Stage]map[Status]int, error) {
	stmt, args, err := sq.Select("stage", "status", "COUNT(1)").From("jobs").GroupBy("stage", "status").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.db.SQL().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[pipeline.Stage]map[Status]int)
	for rows.Next() {
		var stage, status string
		var count int
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return nil, err
		}
		if stats[pipeline.Stage(stage)] == nil {
			stats[pipeline.Stage(stage)] = make(map[Status]int)
		}
		stats[pipeline.Stage(stage)][Status(status)] = count
	}
	return stats, rows.Err()
}

// PruneFinished deletes succeeded and failed jobs whose process no longer
// exists. Results of live processes are kept for reconciliation.
func (q *Queue) PruneFinished(ctx context.Context) (int64, error) {
	res, err := q.db.Exec(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND process_id NOT IN (SELECT id FROM processes)`,
		string(StatusSucceeded), string(StatusFailed),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(scanner database.Scanner) (*Job, error) {
	var (
		job        Job
		stage      string
		status     string
		payload    string
		runAt      string
		locked     sql.NullString
		lastError  sql.NullString
		result     sql.NullString
		createdRaw string
		updatedRaw string
		startedRaw sql.NullString
		finished   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID, &stage, &job.ProcessID, &job.Unit, &payload, &status, &job.Attempts, &job.MaxAttempts,
		&runAt, &locked, &lastError, &result, &createdRaw, &updatedRaw, &startedRaw, &finished,
	); err != nil {
		return nil, err
	}
	job.Stage = pipeline.Stage(stage)
	job.Status = Status(status)
	job.Payload = []byte(payload)
	job.LastError = lastError.String
	if result.Valid && result.String != "" {
		job.Result = []byte(result.String)
	}
	if t, err := database.ParseTime(runAt); err == nil {
		job.RunAt = t
	}
	if t, err := database.ParseTime(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := database.ParseTime(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	job.LockedUntil = database.ParseNullTime(locked)
	job.StartedAt = database.ParseNullTime(startedRaw)
	job.FinishedAt = database.ParseNullTime(finished)
	return &job, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
