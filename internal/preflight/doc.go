// Package preflight provides readiness checks for the filesystem paths and
// external services geass depends on.
//
// These checks run in two contexts:
//   - `geass serve` runs RunAll before starting and refuses to start when a
//     required check fails.
//   - `geass config validate` prints every result so operators can fix
//     problems before launching the daemon.
//
// Each optional check is gated by its config value; unset features are skipped.
package preflight
