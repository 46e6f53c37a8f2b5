package daemon

import (
	"net"
	"net/http"
	"strings"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
// A missing or malformed header yields an empty token, which the gateway rejects.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// clientIdentity returns the rate-limit identity of the caller: the first
// X-Forwarded-For hop when trusted, otherwise the remote IP.
func clientIdentity(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
