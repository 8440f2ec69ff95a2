package testsupport

import (
	"context"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/store"
)

// MustOpenDB opens the configured database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenStore opens a process store backed by db.
func MustOpenStore(t testing.TB, db *database.DB) *store.Store {
	t.Helper()
	return store.New(db)
}

// MustOpenQueue opens a job queue backed by db.
func MustOpenQueue(t testing.TB, db *database.DB, opts ...queue.Option) *queue.Queue {
	t.Helper()
	return queue.New(db, opts...)
}

// NewProcess inserts a fresh process for tests.
func NewProcess(t testing.TB, st *store.Store, id string) *process.Process {
	t.Helper()

	p := process.New(id, "tenant-test", process.OriginalFile{Path: "/media/" + id + ".mp4", Size: 10 << 20}, time.Now())
	if err := st.Create(context.Background(), p); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return p
}
