// Package jobs persists transcription jobs in SQLite.
//
// A job is keyed by the content fingerprint of its audio, so at most one job
// exists per distinct upload. Every attempt carries its own call_id; writes
// made on behalf of a worker are guarded by (key, call_id, expected status)
// so a stale attempt can never overwrite a newer job for the same content.
//
// The pending rows double as the durable work queue: the worker pool claims
// them with ClaimNext, which flips a job to processing in one statement.
package jobs
