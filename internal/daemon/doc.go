// Package daemon coordinates the long-running Geass process.
//
// It wires the job store, workflow manager, retention sweeper, and gateway
// into a single lifecycle guarded by a flock on the data directory, so two
// daemons can never share one job database. The HTTP surface lives here too:
// handlers translate requests into gateway calls and map the error markers
// from internal/services onto status codes.
//
// Keep orchestration logic here. Job semantics belong in gateway, workflow,
// and retention; the daemon focuses on startup, shutdown, and transport.
package daemon
