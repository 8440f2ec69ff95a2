package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediaflow/internal/database"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/services"
)

// ErrNoChange lets a Mutate callback finish without writing.
var ErrNoChange = errors.New("no change")

// Store persists process documents.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database.
func New(db *database.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new process.
func (s *Store) Create(ctx context.Context, p *process.Process) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode process: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO processes (id, tenant, status, outstanding, document, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Tenant, string(p.Status), database.BoolToInt(p.Outstanding()), string(doc),
			database.FormatTime(p.CreatedAt), database.FormatTime(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert process: %w", err)
		}
		return syncLedger(ctx, tx, p)
	})
}

// Load reads a process. Corrupt fields are withheld and listed in
// Process.Corrupt.
func (s *Store) Load(ctx context.Context, id string) (*process.Process, error) {
	var doc string
	err := s.db.SQL().QueryRowContext(ctx, "SELECT document FROM processes WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "load", "process "+id, nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "store", "load", "query process", err)
	}
	return decode(id, doc)
}

// Exists reports whether the process row is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.db.SQL().QueryRowContext(ctx, "SELECT COUNT(1) FROM processes WHERE id = ?", id).Scan(&count); err != nil {
		return false, services.Wrap(services.ErrTransient, "store", "exists", "query process", err)
	}
	return count > 0, nil
}

// Mutate applies fn to the current record and persists the result
// atomically. Records with corrupt fields are refused until repaired.
// Returning ErrNoChange from fn skips the write.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*process.Process) error) (*process.Process, error) {
	var out *process.Process
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx, "SELECT document FROM processes WHERE id = ?", id).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "store", "mutate", "process "+id, nil)
		}
		if err != nil {
			return err
		}
		p, err := decode(id, doc)
		if err != nil {
			return err
		}
		if len(p.Corrupt) > 0 {
			return services.Wrap(services.ErrCorrupt, "store", "mutate", fmt.Sprintf("process %s has corrupt fields %v; run repair", id, p.Corrupt), nil)
		}
		if err := fn(p); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = p
				return nil
			}
			return err
		}
		p.UpdatedAt = s.now().UTC()
		if err := write(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		if database.IsBusy(err) {
			return nil, services.Wrap(services.ErrTransient, "store", "mutate", "database busy", err)
		}
		return nil, err
	}
	return out, nil
}

// Delete removes a process and its ledger index. In-flight jobs keep
// running; their write-backs find no record and are dropped.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.Exec(ctx, "DELETE FROM processes WHERE id = ?", id)
	if err != nil {
		return services.Wrap(services.ErrTransient, "store", "delete", "delete process", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "delete", "process "+id, nil)
	}
	return nil
}

// FindByJob resolves a ledger job id to its owning process and stage.
func (s *Store) FindByJob(ctx context.Context, jobID string) (string, pipeline.Stage, error) {
	var processID, stage string
	err := s.db.SQL().QueryRowContext(ctx, "SELECT process_id, stage FROM process_jobs WHERE job_id = ?", jobID).Scan(&processID, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", services.Wrap(services.ErrNotFound, "store", "find job", "job "+jobID, nil)
	}
	if err != nil {
		return "", "", err
	}
	return processID, pipeline.Stage(stage), nil
}

func write(ctx context.Context, tx *sql.Tx, p *process.Process) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode process: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE processes SET status = ?, outstanding = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(p.Status), database.BoolToInt(p.Outstanding()), string(doc), database.FormatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	return syncLedger(ctx, tx, p)
}

// syncLedger mirrors ledger ids into process_jobs and rejects an id that is
// already owned by a different (process, stage) pair.
func syncLedger(ctx context.Context, tx *sql.Tx, p *process.Process) error {
	for stage, ids := range p.JobLedger {
		for _, jobID := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO process_jobs (job_id, process_id, stage) VALUES (?, ?, ?) ON CONFLICT(job_id) DO NOTHING",
				jobID, p.ID, string(stage),
			); err != nil {
				return fmt.Errorf("index ledger job: %w", err)
			}
			var owner, ownerStage string
			if err := tx.QueryRowContext(ctx, "SELECT process_id, stage FROM process_jobs WHERE job_id = ?", jobID).Scan(&owner, &ownerStage); err != nil {
				return fmt.Errorf("read ledger owner: %w", err)
			}
			if owner != p.ID || ownerStage != string(stage) {
				return services.Wrap(services.ErrGuard, "store", "ledger",
					fmt.Sprintf("job %s already belongs to %s/%s", jobID, owner, ownerStage), nil)
			}
		}
	}
	return nil
}

func decode(id, doc string) (*process.Process, error) {
	p, err := process.Decode([]byte(doc))
	if err != nil {
		return nil, services.Wrap(services.ErrCorrupt, "store", "decode", "process "+id, err)
	}
	return p, nil
}
