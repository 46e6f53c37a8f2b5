// Package client talks to a running geass daemon over its HTTP API.
//
// Every response is decoded from the api.Envelope wrapper; non-2xx replies
// surface as *APIError so callers can branch on the stable error kind.
package client
