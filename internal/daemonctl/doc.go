// Package daemonctl launches and stops a background geass daemon.
//
// Liveness is judged through the HTTP health endpoint; the pid file written
// by `geass serve` is only consulted to deliver signals.
package daemonctl
