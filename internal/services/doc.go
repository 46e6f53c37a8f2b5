// Package services defines shared utilities consumed by the gateway, the
// transcription worker, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job keys, call IDs, client identities, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so the HTTP layer and the
//     worker classify failures (auth, rate limit, storage, transcription)
//     with errors.Is instead of string matching.
//
// Subpackages hold adapters for external tools such as WhisperX.
package services
