// Package daemonrun assembles and runs the geass daemon process: logging,
// pid file, job store, blob store, rate limiter, workers, sweeper, and the
// HTTP server, torn down in reverse order on SIGINT or SIGTERM.
package daemonrun
