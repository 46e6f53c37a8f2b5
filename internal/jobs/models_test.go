package jobs

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusPending, StatusFailed}:       true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSourcesFor(t *testing.T) {
	got := sourcesFor(StatusFailed)
	if len(got) != 2 || got[0] != StatusPending || got[1] != StatusProcessing {
		t.Fatalf("unexpected sources for failed: %v", got)
	}
	if len(sourcesFor(StatusPending)) != 0 {
		t.Fatal("nothing may transition back to pending")
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus(" Completed "); !ok || status != StatusCompleted {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
	if _, ok := ParseStatus("review"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestDerivedDurations(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &Job{StartTime: start}
	if _, ok := job.TimeTaken(); ok {
		t.Fatal("expected no time taken before end")
	}
	if age := job.Age(start.Add(time.Hour)); age != time.Hour {
		t.Fatalf("unexpected age %v", age)
	}
	end := start.Add(90 * time.Second)
	job.EndTime = &end
	if taken, ok := job.TimeTaken(); !ok || taken != 90*time.Second {
		t.Fatalf("unexpected time taken %v %v", taken, ok)
	}
}
