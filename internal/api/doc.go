// Package api defines the wire-format types shared by the HTTP daemon and the
// client. It translates internal job models into transport-friendly DTOs so
// consumers never couple to storage types.
//
// Every response is wrapped in an Envelope carrying an optional human message,
// an optional data payload, and on failure a stable error kind. Fields use
// snake_case; durations are reported in seconds as floats and timestamps as
// RFC3339 with milliseconds.
//
// Job carries the fields a submitting client polls for. JobRecord extends it
// with the bookkeeping an administrator sees in the full listing.
package api
