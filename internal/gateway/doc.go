// Package gateway composes authorization, rate limiting, deduplication, and
// job creation behind the four client operations: submit, poll, list, and
// reset.
//
// Submit checks the bearer token and the caller's rate limit before reading
// any audio, then spools the upload while fingerprinting it. Lookup and
// creation for one fingerprint run inside a per-key critical section backed
// by a compare-and-swap insert in the store, so concurrent identical uploads
// always converge on a single job and a single transcription.
package gateway
