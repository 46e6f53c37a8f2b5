package retention_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"geass/internal/blobstore"
	"geass/internal/logging"
	"geass/internal/retention"
	"geass/internal/testsupport"
)

type failingBlobs struct {
	fail map[string]bool
	next retention.BlobDeleter
}

func (f failingBlobs) Delete(path string) error {
	if f.fail[path] {
		return errors.New("permission denied")
	}
	return f.next.Delete(path)
}

func TestSweepEvictsOnlyExpiredJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxJobAge(3600))
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blobstore.NewLocal(cfg.UploadsDir(), cfg.SpoolDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := testsupport.NewPendingJob(t, store, "old", now.Add(-2*time.Hour))
	old.AudioPath = filepath.Join(cfg.UploadsDir(), old.CallID+".wav")
	testsupport.WriteSilentWAV(t, old.AudioPath, 10*time.Millisecond)
	if err := store.Put(ctx, old); err != nil {
		t.Fatal(err)
	}
	boundary := testsupport.NewPendingJob(t, store, "boundary", now.Add(-time.Hour))
	fresh := testsupport.NewPendingJob(t, store, "fresh", now.Add(-time.Minute))

	sweeper := retention.New(store, blobs, cfg.MaxJobAge(), 0, logging.NewNop(), retention.WithClock(func() time.Time { return now }))
	report, err := sweeper.Sweep(ctx, false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Scanned != 3 || report.Cleaned != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if blobs.Exists(old.AudioPath) {
		t.Fatal("expected expired audio deleted")
	}
	for key, want := range map[string]bool{"old": false, boundary.Key: true, fresh.Key: true} {
		job, err := store.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if (job != nil) != want {
			t.Fatalf("job %s present=%v, want %v", key, job != nil, want)
		}
	}
}

func TestSweepAllResetsStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blobstore.NewLocal(cfg.UploadsDir(), cfg.SpoolDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		testsupport.NewPendingJob(t, store, key, time.Now())
	}

	report, err := retention.New(store, blobs, cfg.MaxJobAge(), 0, logging.NewNop()).Sweep(context.Background(), true)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Cleaned != 3 || !report.All {
		t.Fatalf("unexpected report %+v", report)
	}
	remaining, err := store.List(context.Background())
	if err != nil || len(remaining) != 0 {
		t.Fatalf("expected empty store, got %d jobs, err %v", len(remaining), err)
	}
}

func TestSweepContinuesPastDeletionFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	local, err := blobstore.NewLocal(cfg.UploadsDir(), cfg.SpoolDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	stuck := testsupport.NewPendingJob(t, store, "stuck", time.Now().Add(-time.Minute))
	stuck.AudioPath = filepath.Join(cfg.UploadsDir(), "stuck.wav")
	if err := store.Put(ctx, stuck); err != nil {
		t.Fatal(err)
	}
	testsupport.NewPendingJob(t, store, "ok", time.Now())

	blobs := failingBlobs{fail: map[string]bool{stuck.AudioPath: true}, next: local}
	report, err := retention.New(store, blobs, time.Hour, 0, logging.NewNop()).Sweep(ctx, true)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Cleaned != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if job, _ := store.Get(ctx, "stuck"); job == nil {
		t.Fatal("expected job with undeletable audio kept")
	}
	if job, _ := store.Get(ctx, "ok"); job != nil {
		t.Fatal("expected other job evicted")
	}
}

func TestRunSweepsAtStartup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	local, err := blobstore.NewLocal(cfg.UploadsDir(), cfg.SpoolDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	testsupport.NewPendingJob(t, store, "ancient", time.Now().Add(-30*24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		retention.New(store, local, time.Hour, time.Hour, logging.NewNop()).Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := store.Get(context.Background(), "ancient")
		if err != nil {
			t.Fatal(err)
		}
		if job == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup sweep never evicted expired job")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
}
