package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"geass/internal/config"
	"geass/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPendingJob inserts a pending job for key created at start and returns it.
func NewPendingJob(t testing.TB, store *jobs.Store, key string, start time.Time) *jobs.Job {
	t.Helper()

	job := &jobs.Job{
		Key:       key,
		CallID:    uuid.NewString(),
		Status:    jobs.StatusPending,
		Filename:  key + ".wav",
		StartTime: start.UTC(),
	}
	created, err := store.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	if !created {
		t.Fatalf("store.Create: key %s already present", key)
	}
	return job
}
