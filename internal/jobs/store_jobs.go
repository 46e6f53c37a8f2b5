package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Get fetches the job stored under key. It returns (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) (*Job, error) {
	return s.queryOne(ctx, "get job", `SELECT `+jobColumns+` FROM jobs WHERE key = ?`, key)
}

// GetByCallID fetches the job for a client handle. It returns (nil, nil) when absent.
func (s *Store) GetByCallID(ctx context.Context, callID string) (*Job, error) {
	return s.queryOne(ctx, "get job by call_id", `SELECT `+jobColumns+` FROM jobs WHERE call_id = ?`, callID)
}

func (s *Store) queryOne(ctx context.Context, op, query string, args ...any) (*Job, error) {
	ctx = ensureContext(ctx)
	var job *Job
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		job, scanErr = scanJob(s.db.QueryRowContext(ctx, query, args...))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

// Put inserts job or replaces the row already stored under its key.
func (s *Store) Put(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	args, err := s.rowArgs(job)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
             call_id = excluded.call_id,
             status = excluded.status,
             filename = excluded.filename,
             audio_path = excluded.audio_path,
             start_time = excluded.start_time,
             end_time = excluded.end_time,
             transcript_json = excluded.transcript_json,
             error_message = excluded.error_message,
             last_heartbeat = excluded.last_heartbeat,
             updated_at = excluded.updated_at`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// Create inserts job only when no job exists for its key. It reports false
// when another job already holds the key; the caller should re-read it.
func (s *Store) Create(ctx context.Context, job *Job) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, err
	}
	args, err := s.rowArgs(job)
	if err != nil {
		return false, err
	}
	affected, err := s.execAffected(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(key) DO NOTHING`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("create job: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	job.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) rowArgs(job *Job) ([]any, error) {
	transcript, err := encodeTranscript(job.Transcript)
	if err != nil {
		return nil, err
	}
	return []any{
		job.Key,
		job.CallID,
		string(job.Status),
		nullableString(job.Filename),
		nullableString(job.AudioPath),
		formatTime(job.StartTime),
		nullableTime(job.EndTime),
		transcript,
		nullableString(job.ErrorMessage),
		nullableTime(job.LastHeartbeat),
		formatTime(s.now()),
	}, nil
}

// Delete removes the job stored under key and reports whether one existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	affected, err := s.execAffected(ctx, `DELETE FROM jobs WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return affected > 0, nil
}

// DeleteAttempt removes the job under key only while it still belongs to
// callID, so a concurrent resubmission that replaced it is left alone.
func (s *Store) DeleteAttempt(ctx context.Context, key, callID string) (bool, error) {
	affected, err := s.execAffected(ctx, `DELETE FROM jobs WHERE key = ? AND call_id = ?`, key, callID)
	if err != nil {
		return false, fmt.Errorf("delete job attempt: %w", err)
	}
	return affected > 0, nil
}

// List returns jobs ordered by creation time. With no statuses every job is returned.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY start_time, key`

	var out []*Job
	err := retryOnBusy(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}
