package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"mediaflow/internal/database"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
)

// Filter narrows List results.
type Filter struct {
	Statuses []pipeline.Status
	Tenant   string
	Limit    uint64
	Offset   uint64
}

// List returns processes newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*process.Process, error) {
	query := sq.Select("id", "document").From("processes").OrderBy("created_at DESC", "id")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where(sq.Eq{"status": statuses})
	}
	if filter.Tenant != "" {
		query = query.Where(sq.Eq{"tenant": filter.Tenant})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.SQL().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []*process.Process
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		p, err := decode(id, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReconcileCandidates returns ids of processes with an issued stage that
// has not recorded success and that have been idle since before cutoff.
func (s *Store) ReconcileCandidates(ctx context.Context, cutoff time.Time, limit uint64) ([]string, error) {
	query := sq.Select("id").From("processes").
		Where(sq.Eq{"outstanding": 1}).
		Where(sq.LtOrEq{"updated_at": database.FormatTime(cutoff)}).
		OrderBy("updated_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}
	rows, err := s.db.SQL().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns the number of processes per status.
func (s *Store) CountByStatus(ctx context.Context) (map[pipeline.Status]int, error) {
	stmt, args, err := sq.Select("status", "COUNT(1)").From("processes").GroupBy("status").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.SQL().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("count processes: %w", err)
	}
	defer rows.Close()
	counts := make(map[pipeline.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[pipeline.Status(status)] = count
	}
	return counts, rows.Err()
}
