// Package workflow runs the transcription workers.
//
// The Manager starts a fixed number of workers that claim pending jobs from
// the store, transcribe them while refreshing a heartbeat, and record the
// transcript or a failure diagnostic. Workers sleep for the poll interval when
// nothing is pending and wake early when Notify reports a new submission.
//
// Processing jobs whose heartbeat goes stale are failed rather than retried,
// keeping job status monotonic; a client that wants another attempt simply
// resubmits the audio. Jobs left processing by a previous process are failed
// when the manager starts.
package workflow
