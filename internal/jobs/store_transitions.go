package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"geass/internal/transcription"
)

// ClaimNext moves the oldest pending job to processing and returns it.
// It returns (nil, nil) when nothing is pending.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	var job *Job
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		job, scanErr = scanJob(s.db.QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, last_heartbeat = ?, updated_at = ?
             WHERE key = (
                 SELECT key FROM jobs WHERE status = ? ORDER BY start_time, key LIMIT 1
             ) AND status = ?
             RETURNING `+jobColumns,
			string(StatusProcessing), now, now,
			string(StatusPending), string(StatusPending),
		))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// Complete records a transcript for the attempt identified by key and callID.
// It reports false when the attempt is no longer processing (it failed, was
// swept, or was replaced), in which case nothing is written.
func (s *Store) Complete(ctx context.Context, key, callID string, transcript transcription.Transcript, end time.Time) (bool, error) {
	encoded, err := encodeTranscript(&transcript)
	if err != nil {
		return false, err
	}
	from := sourcesFor(StatusCompleted)
	args := []any{string(StatusCompleted), encoded, formatTime(end), formatTime(s.now()), key, callID}
	args = append(args, statusArgs(from)...)
	affected, err := s.execAffected(ctx,
		`UPDATE jobs
         SET status = ?, transcript_json = ?, error_message = NULL, end_time = ?, last_heartbeat = NULL, updated_at = ?
         WHERE key = ? AND call_id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return affected > 0, nil
}

// Fail records a diagnostic for the attempt identified by key and callID.
// It reports false when the attempt is already terminal or gone.
func (s *Store) Fail(ctx context.Context, key, callID, message string, end time.Time) (bool, error) {
	if message == "" {
		message = "transcription failed"
	}
	from := sourcesFor(StatusFailed)
	args := []any{string(StatusFailed), message, formatTime(end), formatTime(s.now()), key, callID}
	args = append(args, statusArgs(from)...)
	affected, err := s.execAffected(ctx,
		`UPDATE jobs
         SET status = ?, transcript_json = NULL, error_message = ?, end_time = ?, last_heartbeat = NULL, updated_at = ?
         WHERE key = ? AND call_id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return affected > 0, nil
}

// UpdateHeartbeat refreshes the liveness stamp of a processing attempt.
func (s *Store) UpdateHeartbeat(ctx context.Context, key, callID string) error {
	now := formatTime(s.now())
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE key = ? AND call_id = ? AND status = ?`,
		now, now, key, callID, string(StatusProcessing),
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// FailStaleProcessing fails processing jobs whose heartbeat is older than
// cutoff (or missing) and returns how many were affected. Passing the current
// time at startup fails every job orphaned by a previous process.
func (s *Store) FailStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	now := s.now()
	affected, err := s.execAffected(ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, end_time = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		string(StatusFailed), reason, formatTime(now), formatTime(now),
		string(StatusProcessing), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return affected, nil
}
