package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"mediaflow/internal/database"
)

func TestOpenCreatesSchemaAndMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mediaflow.db")
	ctx := context.Background()
	db, err := database.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"processes", "process_jobs", "jobs", "process_repairs"} {
		var count int
		if err := db.SQL().QueryRowContext(ctx, "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("query table %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	versions, err := db.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if !slices.Equal(versions, []string{"001_process_repairs", "002_job_duration"}) {
		t.Fatalf("unexpected migrations %v", versions)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaflow.db")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		db, err := database.Open(ctx, path)
		if err != nil {
			t.Fatalf("Open #%d failed: %v", i+1, err)
		}
		_ = db.Close()
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaflow.db")
	ctx := context.Background()
	db, err := database.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := db.Exec(ctx, "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	_ = db.Close()

	if _, err := database.Open(ctx, path); !errors.Is(err, database.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	err := database.RetryOnBusy(context.Background(), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("expected single call returning sentinel, got %d calls, err=%v", calls, err)
	}

	calls = 0
	err = database.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 calls, got %d calls, err=%v", calls, err)
	}
}
