package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"geass/internal/transcription"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ShutdownReason is the error recorded when the daemon stops mid-transcription.
const ShutdownReason = "transcription interrupted: daemon stopped"

// StaleReason is the error recorded when a processing job loses its worker.
const StaleReason = "transcription worker stopped responding"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// transitions lists the allowed status changes. Terminal states have none:
// a failed job is deleted and recreated rather than revived.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// ErrInvalidJob reports a job whose fields violate the status invariants.
var ErrInvalidJob = errors.New("invalid job")

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status if recognized.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesFor returns every status that may transition into to.
func sourcesFor(to Status) []Status {
	var out []Status
	for _, from := range allStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Job is a single transcription request tracked by content fingerprint.
type Job struct {
	Key           string
	CallID        string
	Status        Status
	Filename      string
	AudioPath     string
	StartTime     time.Time
	EndTime       *time.Time
	Transcript    *transcription.Transcript
	ErrorMessage  string
	LastHeartbeat *time.Time
	UpdatedAt     time.Time
}

// Age returns how long ago the job was created.
func (j *Job) Age(now time.Time) time.Duration {
	if j == nil || j.StartTime.IsZero() {
		return 0
	}
	return now.Sub(j.StartTime)
}

// TimeTaken returns end_time - start_time once the job is terminal.
func (j *Job) TimeTaken() (time.Duration, bool) {
	if j == nil || j.EndTime == nil {
		return 0, false
	}
	d := j.EndTime.Sub(j.StartTime)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Validate checks the status invariants that every persisted job satisfies.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if strings.TrimSpace(j.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidJob)
	}
	if strings.TrimSpace(j.CallID) == "" {
		return fmt.Errorf("%w: call_id is required", ErrInvalidJob)
	}
	if _, ok := ParseStatus(string(j.Status)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidJob, j.Status)
	}
	if j.Transcript != nil && j.Status != StatusCompleted {
		return fmt.Errorf("%w: transcript set on %s job", ErrInvalidJob, j.Status)
	}
	if j.ErrorMessage != "" && j.Status != StatusFailed {
		return fmt.Errorf("%w: error set on %s job", ErrInvalidJob, j.Status)
	}
	if j.Status.IsTerminal() && j.EndTime == nil {
		return fmt.Errorf("%w: %s job without end_time", ErrInvalidJob, j.Status)
	}
	if !j.Status.IsTerminal() && j.EndTime != nil {
		return fmt.Errorf("%w: end_time set on %s job", ErrInvalidJob, j.Status)
	}
	return nil
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
