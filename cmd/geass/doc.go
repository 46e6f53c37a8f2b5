// Command geass runs the transcription daemon and talks to it over HTTP.
//
// `geass serve` starts the daemon in the foreground. The remaining commands
// (submit, status, jobs, reset, health) are thin clients of its API and read
// the bind address and bearer tokens from the same configuration file.
package main
