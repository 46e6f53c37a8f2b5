package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geass/internal/blobstore"
	"geass/internal/config"
	"geass/internal/gateway"
	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/ratelimit"
	"geass/internal/retention"
	"geass/internal/services"
	"geass/internal/testsupport"
	"geass/internal/transcription"
)

type countingDispatcher struct {
	calls atomic.Int32
}

func (d *countingDispatcher) Notify() { d.calls.Add(1) }

type fixture struct {
	cfg        *config.Config
	store      *jobs.Store
	blobs      *blobstore.Local
	dispatcher *countingDispatcher
	gw         *gateway.Gateway
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blobstore.NewLocal(cfg.UploadsDir(), cfg.SpoolDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	dispatcher := &countingDispatcher{}
	gw := gateway.New(gateway.Config{
		APIToken:   cfg.Auth.APIToken,
		AdminToken: cfg.Auth.AdminToken,
		MaxBytes:   cfg.Upload.MaxBytes,
		Store:      store,
		Limiter:    ratelimit.NewMemory(cfg.RateLimit.Limit, cfg.RateLimitWindow()),
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Sweeper:    retention.New(store, blobs, cfg.MaxJobAge(), 0, logging.NewNop()),
		Logger:     logging.NewNop(),
	})
	return &fixture{cfg: cfg, store: store, blobs: blobs, dispatcher: dispatcher, gw: gw}
}

func upload(name string, data []byte) gateway.Source {
	return func() (string, io.Reader, error) {
		return name, bytes.NewReader(data), nil
	}
}

func (f *fixture) submit(t *testing.T, data []byte) *gateway.SubmitResult {
	t.Helper()
	res, err := f.gw.Submit(context.Background(), gateway.SubmitRequest{
		Token:    testsupport.APIToken,
		ClientID: "10.0.0.1",
		Open:     upload("clip.wav", data),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func spoolIsEmpty(t *testing.T, cfg *config.Config) bool {
	t.Helper()
	entries, err := os.ReadDir(cfg.SpoolDir())
	if err != nil {
		t.Fatal(err)
	}
	return len(entries) == 0
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, []byte("audio-bytes"))

	if res.Outcome != gateway.OutcomeCreated || !res.Created() {
		t.Fatalf("unexpected outcome %q", res.Outcome)
	}
	job := res.Job
	if job.Status != jobs.StatusPending || job.Filename != "clip.wav" {
		t.Fatalf("unexpected job %+v", job)
	}
	if !strings.HasSuffix(job.AudioPath, job.CallID+".wav") || !f.blobs.Exists(job.AudioPath) {
		t.Fatalf("expected audio stored under call id, got %q", job.AudioPath)
	}
	if f.dispatcher.calls.Load() != 1 {
		t.Fatalf("expected one dispatch, got %d", f.dispatcher.calls.Load())
	}
	stored, err := f.store.GetByCallID(context.Background(), job.CallID)
	if err != nil || stored == nil || stored.Key != job.Key {
		t.Fatalf("expected job persisted, got %+v, %v", stored, err)
	}
}

func TestSubmitDeduplicatesInFlightJob(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t, []byte("same"))
	second := f.submit(t, []byte("same"))

	if second.Outcome != gateway.OutcomeInFlight || second.Job.CallID != first.Job.CallID {
		t.Fatalf("expected in-flight dedupe, got %q %s", second.Outcome, second.Job.CallID)
	}
	if f.dispatcher.calls.Load() != 1 {
		t.Fatalf("expected no extra dispatch, got %d", f.dispatcher.calls.Load())
	}
	if !spoolIsEmpty(t, f.cfg) {
		t.Fatal("expected duplicate upload discarded")
	}
}

func TestSubmitReturnsCompletedTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, []byte("done"))
	if _, err := f.store.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}
	transcript := transcription.FromSegments([]transcription.Segment{{Start: 0, End: 1, Text: "hi"}})
	if ok, err := f.store.Complete(ctx, first.Job.Key, first.Job.CallID, transcript, time.Now()); err != nil || !ok {
		t.Fatalf("Complete = %v, %v", ok, err)
	}

	again := f.submit(t, []byte("done"))
	if again.Outcome != gateway.OutcomeCompleted || again.Job.CallID != first.Job.CallID {
		t.Fatalf("expected completed dedupe, got %q", again.Outcome)
	}
	if again.Job.Transcript == nil || again.Job.Transcript.Text != "hi" {
		t.Fatalf("expected stored transcript, got %+v", again.Job.Transcript)
	}
	if f.dispatcher.calls.Load() != 1 {
		t.Fatalf("expected no new dispatch, got %d", f.dispatcher.calls.Load())
	}
}

func TestSubmitRetriesFailedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, []byte("flaky"))
	if _, err := f.store.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, err := f.store.Fail(ctx, first.Job.Key, first.Job.CallID, "boom", time.Now()); err != nil || !ok {
		t.Fatalf("Fail = %v, %v", ok, err)
	}

	retry := f.submit(t, []byte("flaky"))
	if retry.Outcome != gateway.OutcomeResubmitted || retry.Job.CallID == first.Job.CallID {
		t.Fatalf("expected fresh attempt, got %q %s", retry.Outcome, retry.Job.CallID)
	}
	if retry.Job.Status != jobs.StatusPending {
		t.Fatalf("expected pending retry, got %s", retry.Job.Status)
	}
	if f.blobs.Exists(first.Job.AudioPath) {
		t.Fatal("expected failed attempt audio removed")
	}
	if old, _ := f.store.GetByCallID(ctx, first.Job.CallID); old != nil {
		t.Fatal("expected failed attempt record removed")
	}
	if f.dispatcher.calls.Load() != 2 {
		t.Fatalf("expected second dispatch, got %d", f.dispatcher.calls.Load())
	}
}

func TestConcurrentIdenticalSubmissionsCreateOneJob(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte("race"), 4096)

	const n = 16
	results := make([]*gateway.SubmitResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.gw.Submit(context.Background(), gateway.SubmitRequest{
				Token:    testsupport.APIToken,
				ClientID: "10.0.0.1",
				Open:     upload("race.wav", payload),
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		if res == nil {
			t.Fatal("missing result")
		}
		if res.Created() {
			created++
		}
		if res.Job.CallID != results[0].Job.CallID {
			t.Fatalf("expected one call id, got %s and %s", res.Job.CallID, results[0].Job.CallID)
		}
	}
	if created != 1 || f.dispatcher.calls.Load() != 1 {
		t.Fatalf("expected exactly one creation and dispatch, got %d and %d", created, f.dispatcher.calls.Load())
	}
	all, err := f.store.List(context.Background())
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one stored job, got %d, %v", len(all), err)
	}
	if !spoolIsEmpty(t, f.cfg) {
		t.Fatal("expected duplicate uploads discarded")
	}
}

func TestSubmitRateLimitedBeforeReadingUpload(t *testing.T) {
	f := newFixture(t, testsupport.WithRateLimit(3, 60))
	var opened atomic.Int32
	submit := func(i int) error {
		_, err := f.gw.Submit(context.Background(), gateway.SubmitRequest{
			Token:    testsupport.APIToken,
			ClientID: "10.0.0.9",
			Open: func() (string, io.Reader, error) {
				opened.Add(1)
				return "a.wav", strings.NewReader(strings.Repeat("x", i+1)), nil
			},
		})
		return err
	}

	rejected := 0
	for i := range 4 {
		if err := submit(i); err != nil {
			if !errors.Is(err, services.ErrRateLimited) {
				t.Fatalf("unexpected error: %v", err)
			}
			rejected++
		}
	}
	if rejected != 1 || opened.Load() != 3 {
		t.Fatalf("expected one rejection and three reads, got %d and %d", rejected, opened.Load())
	}
}

func TestUnauthorizedSubmitHasNoSideEffects(t *testing.T) {
	f := newFixture(t, testsupport.WithRateLimit(1, 60))
	_, err := f.gw.Submit(context.Background(), gateway.SubmitRequest{
		Token:    "wrong",
		ClientID: "10.0.0.1",
		Open:     upload("a.wav", []byte("x")),
	})
	if !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// The single admission in the window must still be available.
	f.submit(t, []byte("x"))
}

func TestSubmitRejectsEmptyUpload(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Submit(context.Background(), gateway.SubmitRequest{
		Token:    testsupport.APIToken,
		ClientID: "10.0.0.1",
		Open:     upload("a.wav", nil),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if all, _ := f.store.List(context.Background()); len(all) != 0 {
		t.Fatal("expected no job created")
	}
}

func TestAuthorizeRoles(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		token string
		role  gateway.Role
		ok    bool
	}{
		{testsupport.APIToken, gateway.RoleClient, true},
		{testsupport.AdminToken, gateway.RoleClient, true},
		{testsupport.AdminToken, gateway.RoleAdmin, true},
		{testsupport.APIToken, gateway.RoleAdmin, false},
		{"", gateway.RoleClient, false},
		{"nope", gateway.RoleClient, false},
	}
	for _, tc := range cases {
		err := f.gw.Authorize(tc.token, tc.role)
		if (err == nil) != tc.ok {
			t.Fatalf("Authorize(%q, %s) = %v, want ok=%v", tc.token, tc.role, err, tc.ok)
		}
		if err != nil && !errors.Is(err, services.ErrUnauthorized) {
			t.Fatalf("expected unauthorized marker, got %v", err)
		}
	}
}

func TestPollListAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.submit(t, []byte("poll-me"))
	f.submit(t, []byte("another"))

	job, err := f.gw.Poll(ctx, testsupport.APIToken, res.Job.CallID)
	if err != nil || job.Key != res.Job.Key {
		t.Fatalf("Poll = %+v, %v", job, err)
	}
	if _, err := f.gw.Poll(ctx, testsupport.APIToken, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.gw.List(ctx, testsupport.APIToken); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected client token refused for list, got %v", err)
	}
	list, err := f.gw.List(ctx, testsupport.AdminToken)
	if err != nil || len(list) != 2 {
		t.Fatalf("List = %d, %v", len(list), err)
	}

	if _, err := f.gw.Reset(ctx, testsupport.APIToken); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected client token refused for reset, got %v", err)
	}
	report, err := f.gw.Reset(ctx, testsupport.AdminToken)
	if err != nil || report.Cleaned != 2 {
		t.Fatalf("Reset = %+v, %v", report, err)
	}
	if f.blobs.Exists(res.Job.AudioPath) {
		t.Fatal("expected reset to delete audio")
	}
	if _, err := f.gw.Poll(ctx, testsupport.APIToken, res.Job.CallID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected job gone after reset, got %v", err)
	}
}
