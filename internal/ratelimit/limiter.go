// Package ratelimit admits or rejects submissions per client over a sliding
// window of recent admissions.
//
// Memory keeps windows in-process and is the default. Redis shares windows
// between daemon instances through a sorted set per client. Both count only
// admitted requests, so a rejected attempt never extends a client's lockout.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether clientID may make another request at now.
type Limiter interface {
	Admit(ctx context.Context, clientID string, now time.Time) (bool, error)
}

// Unlimited admits every request. It is used when the configured limit is zero.
type Unlimited struct{}

// Admit implements Limiter.
func (Unlimited) Admit(context.Context, string, time.Time) (bool, error) {
	return true, nil
}
