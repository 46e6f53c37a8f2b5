package api

import (
	"encoding/json"

	"geass/internal/transcription"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Envelope wraps every response body.
type Envelope struct {
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Job is the client view of a transcription job.
type Job struct {
	CallID     string                    `json:"call_id"`
	Status     string                    `json:"status"`
	Transcript *transcription.Transcript `json:"transcript,omitempty"`
	Error      string                    `json:"error,omitempty"`
	TimeTaken  *float64                  `json:"time_taken,omitempty"`
}

// JobRecord is the administrative view of a stored job.
type JobRecord struct {
	Job
	Key        string  `json:"key"`
	Filename   string  `json:"filename"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time,omitempty"`
	AgeSeconds float64 `json:"age_seconds"`
}

// JobList wraps the admin job listing.
type JobList struct {
	Jobs  []JobRecord    `json:"jobs"`
	Count int            `json:"count"`
	Stats map[string]int `json:"stats"`
}

// ResetResult acknowledges a full reset.
type ResetResult struct {
	Scanned int `json:"scanned"`
	Cleaned int `json:"cleaned"`
	Failed  int `json:"failed"`
}

// WorkflowStatus summarizes worker pool state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	BusyWorkers int            `json:"busy_workers"`
	JobStats    map[string]int `json:"job_stats"`
	LastError   string         `json:"last_error,omitempty"`
	LastJob     *JobRecord     `json:"last_job,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Health is served by the unauthenticated liveness endpoint.
type Health struct {
	Status       string             `json:"status"`
	Version      string             `json:"version,omitempty"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"database_path"`
	RateLimiter  string             `json:"rate_limiter"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}
