package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"geass/internal/transcription"
)

const jobColumns = "key, call_id, status, filename, audio_path, start_time, end_time, transcript_json, error_message, last_heartbeat, updated_at"

// timeLayout is fixed-width so that text ordering in SQLite matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		key            string
		callID         string
		statusStr      string
		filename       sql.NullString
		audioPath      sql.NullString
		startRaw       string
		endRaw         sql.NullString
		transcriptJSON sql.NullString
		errorMessage   sql.NullString
		heartbeatRaw   sql.NullString
		updatedRaw     string
	)
	if err := scanner.Scan(
		&key,
		&callID,
		&statusStr,
		&filename,
		&audioPath,
		&startRaw,
		&endRaw,
		&transcriptJSON,
		&errorMessage,
		&heartbeatRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		Key:          key,
		CallID:       callID,
		Status:       Status(statusStr),
		Filename:     filename.String,
		AudioPath:    audioPath.String,
		ErrorMessage: errorMessage.String,
	}
	if start, err := parseTimeString(startRaw); err == nil {
		job.StartTime = start
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if endRaw.Valid {
		if end, err := parseTimeString(endRaw.String); err == nil {
			job.EndTime = &end
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	if transcriptJSON.Valid && transcriptJSON.String != "" {
		var transcript transcription.Transcript
		if err := json.Unmarshal([]byte(transcriptJSON.String), &transcript); err != nil {
			return nil, fmt.Errorf("decode transcript for job %s: %w", callID, err)
		}
		transcript = transcript.Normalize()
		job.Transcript = &transcript
	}
	return job, nil
}

func encodeTranscript(transcript *transcription.Transcript) (any, error) {
	if transcript == nil {
		return nil, nil
	}
	data, err := json.Marshal(transcript.Normalize())
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, string(status))
	}
	return args
}
