package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Submitted("created")
	m.Submitted("created")
	m.Rejected("rate_limited")
	m.ObserveTranscription("completed", 3*time.Second)
	m.Swept(2, 1)
	m.SetJobCounts(map[string]int{"pending": 4})

	if got := testutil.ToFloat64(m.Submissions.WithLabelValues("created")); got != 2 {
		t.Fatalf("expected 2 created submissions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SweeperEvictions.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed eviction, got %v", got)
	}
	if got := testutil.ToFloat64(m.JobsByStatus.WithLabelValues("pending")); got != 4 {
		t.Fatalf("expected pending gauge 4, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"geass_submissions_total", "geass_transcription_duration_seconds_bucket", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in exposition output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Submitted("created")
	m.Rejected("x")
	m.ObserveTranscription("failed", time.Second)
	m.Swept(1, 1)
	m.SetJobCounts(nil)
	if err := m.RefreshJobCounts(context.Background(), staticCounts{err: errors.New("unused")}); err != nil {
		t.Fatalf("expected nil metrics to skip refresh, got %v", err)
	}
	m.WorkerStarted()
	m.WorkerFinished()
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Submitted("created")
	if got := testutil.ToFloat64(b.Submissions.WithLabelValues("created")); got != 0 {
		t.Fatalf("expected separate registries, got %v", got)
	}
}

type staticCounts struct {
	counts map[string]int
	err    error
}

func (s staticCounts) StatusCounts(context.Context) (map[string]int, error) {
	return s.counts, s.err
}

func TestRefreshJobCounts(t *testing.T) {
	m := New()
	m.SetJobCounts(map[string]int{"pending": 3})
	if err := m.RefreshJobCounts(context.Background(), staticCounts{counts: map[string]int{"pending": 0, "completed": 2}}); err != nil {
		t.Fatalf("RefreshJobCounts: %v", err)
	}
	if got := testutil.ToFloat64(m.JobsByStatus.WithLabelValues("completed")); got != 2 {
		t.Fatalf("expected completed gauge 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.JobsByStatus.WithLabelValues("pending")); got != 0 {
		t.Fatalf("expected pending gauge 0, got %v", got)
	}
	if err := m.RefreshJobCounts(context.Background(), staticCounts{err: errors.New("db closed")}); err == nil {
		t.Fatal("expected source error returned")
	}
}
