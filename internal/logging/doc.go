// Package logging assembles structured slog loggers and formatting helpers used
// across Geass services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so gateway and worker code can
// tag log lines with job keys, call IDs, client identities, and correlation
// IDs. The package also provides a no-op logger for tests and wiring code that
// cannot fail, plus pruning of old per-run log files.
package logging
