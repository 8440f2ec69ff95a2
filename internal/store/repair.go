package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaflow/internal/database"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/services"
)

// RepairRecord is one audited field rewrite.
type RepairRecord struct {
	ProcessID string
	Field     string
	Action    string
	Before    string
	Actor     string
	CreatedAt time.Time
}

// Repair runs the corruption migration for one process. Each rewritten
// field is written to process_repairs and to the process history so the
// change is auditable from either side.
func (s *Store) Repair(ctx context.Context, id, actor string, opts pipeline.ValidateOptions) ([]process.Repair, error) {
	var repairs []process.Repair
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx, "SELECT document FROM processes WHERE id = ?", id).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "store", "repair", "process "+id, nil)
		}
		if err != nil {
			return err
		}
		repaired, changes, err := process.RepairDocument([]byte(doc), opts)
		if err != nil {
			return services.Wrap(services.ErrCorrupt, "store", "repair", "process "+id, err)
		}
		if len(changes) == 0 {
			return nil
		}
		p, err := process.Decode(repaired)
		if err != nil {
			return services.Wrap(services.ErrCorrupt, "store", "repair", "decode repaired", err)
		}
		now := s.now().UTC()
		fields := make([]string, 0, len(changes))
		for _, change := range changes {
			fields = append(fields, change.Field+"="+change.Action)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO process_repairs (process_id, field, action, before_value, actor, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				id, change.Field, change.Action, change.Before, actor, database.FormatTime(now),
			); err != nil {
				return fmt.Errorf("record repair: %w", err)
			}
		}
		p.AppendHistory("repair", process.HistoryRepaired, strings.Join(fields, ", "), now)
		if err := write(ctx, tx, p); err != nil {
			return err
		}
		repairs = changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repairs, nil
}

// CorruptIDs scans every document and returns the ids with corrupt fields.
func (s *Store) CorruptIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQL().QueryContext(ctx, "SELECT id, document FROM processes ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("scan processes: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		fields, err := process.Detect([]byte(doc))
		if err != nil || len(fields) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// Repairs lists the audit trail for one process.
func (s *Store) Repairs(ctx context.Context, id string) ([]RepairRecord, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT process_id, field, action, before_value, actor, created_at FROM process_repairs WHERE process_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query repairs: %w", err)
	}
	defer rows.Close()
	var out []RepairRecord
	for rows.Next() {
		var (
			rec     RepairRecord
			before  sql.NullString
			created string
		)
		if err := rows.Scan(&rec.ProcessID, &rec.Field, &rec.Action, &before, &rec.Actor, &created); err != nil {
			return nil, err
		}
		rec.Before = before.String
		if t, err := database.ParseTime(created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutRaw overwrites the stored document verbatim. It exists for import
// tooling and tests that need to seed legacy documents.
func (s *Store) PutRaw(ctx context.Context, id, tenant string, status pipeline.Status, doc []byte) error {
	now := database.FormatTime(s.now())
	_, err := s.db.Exec(ctx,
		`INSERT INTO processes (id, tenant, status, outstanding, document, created_at, updated_at)
         VALUES (?, ?, ?, 1, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET document = excluded.document, status = excluded.status, updated_at = excluded.updated_at`,
		id, tenant, string(status), string(doc), now, now,
	)
	return err
}
