package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims entries at or before the window start, then records the
// request only if the client is still under the limit.
//
// KEYS[1] = client key; ARGV = cutoff_ms, now_ms, window_ms, limit, member
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[1])
if redis.call('ZCARD', key) >= tonumber(ARGV[4]) then
  return 0
end
redis.call('ZADD', key, ARGV[2], ARGV[5])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

var memberSeq atomic.Uint32

// Redis is a sliding window limiter whose state lives in Redis, shared by
// every daemon pointed at the same server and prefix.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedis parses rawURL and returns a limiter backed by that server. The
// connection is verified with PING.
func NewRedis(ctx context.Context, rawURL, prefix string, limit int, window time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisWithClient(client, prefix, limit, window), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, limit: limit, window: window}
}

// Admit implements Limiter.
func (r *Redis) Admit(ctx context.Context, clientID string, now time.Time) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	nowMS := now.UnixMilli()
	windowMS := r.window.Milliseconds()
	// Members must be unique per request even when two land in the same millisecond.
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(uint64(memberSeq.Add(1)), 10)
	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + clientID},
		nowMS-windowMS, nowMS, windowMS, r.limit, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
