// Package notifications pushes transcription outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// the worker pool can call it unconditionally. Delivery is best effort:
// callers log failures and never let them affect job state.
package notifications
