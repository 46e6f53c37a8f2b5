package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"geass/internal/jobs"
	"geass/internal/retention"
	"geass/internal/workflow"
)

// FromJob converts a stored job into its client view.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	out := Job{
		CallID: job.CallID,
		Status: string(job.Status),
	}
	switch job.Status {
	case jobs.StatusCompleted:
		out.Transcript = job.Transcript
	case jobs.StatusFailed:
		out.Error = job.ErrorMessage
	}
	if taken, ok := job.TimeTaken(); ok {
		seconds := taken.Seconds()
		out.TimeTaken = &seconds
	}
	return out
}

// FromJobRecord converts a stored job into its administrative view.
func FromJobRecord(job *jobs.Job, now time.Time) JobRecord {
	if job == nil {
		return JobRecord{}
	}
	record := JobRecord{
		Job:        FromJob(job),
		Key:        job.Key,
		Filename:   job.Filename,
		StartTime:  formatTime(job.StartTime),
		AgeSeconds: job.Age(now).Seconds(),
	}
	if job.EndTime != nil {
		record.EndTime = formatTime(*job.EndTime)
	}
	return record
}

// FromJobs builds the admin listing with per-status counts.
func FromJobs(list []*jobs.Job, now time.Time) JobList {
	out := JobList{
		Jobs:  make([]JobRecord, 0, len(list)),
		Stats: make(map[string]int, len(jobs.AllStatuses())),
	}
	for _, status := range jobs.AllStatuses() {
		out.Stats[string(status)] = 0
	}
	for _, job := range list {
		out.Jobs = append(out.Jobs, FromJobRecord(job, now))
		out.Stats[string(job.Status)]++
	}
	out.Count = len(out.Jobs)
	return out
}

// FromReport converts a sweep report.
func FromReport(report retention.Report) ResetResult {
	return ResetResult{Scanned: report.Scanned, Cleaned: report.Cleaned, Failed: report.Failed}
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary, now time.Time) WorkflowStatus {
	out := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		BusyWorkers: summary.BusyWorkers,
		LastError:   summary.LastError,
		JobStats:    make(map[string]int, len(summary.JobStats)),
	}
	for status, count := range summary.JobStats {
		out.JobStats[string(status)] = count
	}
	if summary.LastJob != nil {
		record := FromJobRecord(summary.LastJob, now)
		out.LastJob = &record
	}
	return out
}

// SortedStats returns the stat keys in lifecycle order followed by any
// unknown keys alphabetically.
func SortedStats(stats map[string]int) []string {
	keys := make([]string, 0, len(stats))
	seen := make(map[string]struct{}, len(stats))
	for _, status := range jobs.AllStatuses() {
		if _, ok := stats[string(status)]; ok {
			keys = append(keys, string(status))
			seen[string(status)] = struct{}{}
		}
	}
	var rest []string
	for key := range stats {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(message string, data any) (Envelope, error) {
	env := Envelope{Message: message}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode response data: %w", err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into target.
func (e Envelope) Decode(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
