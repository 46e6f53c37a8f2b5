package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T, srv *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisSlidingWindow(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter := NewRedisWithClient(newRedisClient(t, srv), "geass:rl:", 2, time.Minute)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := range 2 {
		ok, err := limiter.Admit(ctx, "client", base.Add(time.Duration(i)*time.Millisecond))
		if err != nil || !ok {
			t.Fatalf("request %d: admit=%v err=%v", i, ok, err)
		}
	}
	ok, err := limiter.Admit(ctx, "client", base.Add(2*time.Millisecond))
	if err != nil || ok {
		t.Fatalf("expected rejection, got admit=%v err=%v", ok, err)
	}
	if ok, err := limiter.Admit(ctx, "other", base); err != nil || !ok {
		t.Fatalf("expected independent client admitted, got admit=%v err=%v", ok, err)
	}
	ok, err = limiter.Admit(ctx, "client", base.Add(time.Minute+time.Millisecond))
	if err != nil || !ok {
		t.Fatalf("expected admission after window, got admit=%v err=%v", ok, err)
	}
	if !srv.Exists("geass:rl:client") {
		t.Fatal("expected window stored under the configured prefix")
	}
}

func TestRedisWindowBoundaryIsInclusive(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter := NewRedisWithClient(newRedisClient(t, srv), "geass:rl:", 1, time.Minute)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if ok, err := limiter.Admit(ctx, "client", base); err != nil || !ok {
		t.Fatalf("first admit=%v err=%v", ok, err)
	}
	if ok, err := limiter.Admit(ctx, "client", base.Add(time.Minute-time.Millisecond)); err != nil || ok {
		t.Fatalf("expected rejection inside window, got admit=%v err=%v", ok, err)
	}
	if ok, err := limiter.Admit(ctx, "client", base.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("expected hit exactly one window old to be evicted, got admit=%v err=%v", ok, err)
	}
}

func TestRedisConcurrentBurstAcrossReplicas(t *testing.T) {
	srv := miniredis.RunT(t)
	const limit = 8
	replicas := []*Redis{
		NewRedisWithClient(newRedisClient(t, srv), "geass:rl:", limit, time.Minute),
		NewRedisWithClient(newRedisClient(t, srv), "geass:rl:", limit, time.Minute),
	}
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := range limit + 1 {
		wg.Add(1)
		go func(limiter *Redis) {
			defer wg.Done()
			ok, err := limiter.Admit(ctx, "burst", now)
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if ok {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(replicas[i%len(replicas)])
	}
	wg.Wait()
	if admitted.Load() != limit || rejected.Load() != 1 {
		t.Fatalf("expected %d admitted and 1 rejected, got %d and %d", limit, admitted.Load(), rejected.Load())
	}
}

func TestRedisScriptErrorIsReported(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter := NewRedisWithClient(newRedisClient(t, srv), "geass:rl:", 1, time.Minute)
	srv.SetError("ERR injected failure")
	if _, err := limiter.Admit(context.Background(), "client", time.Now()); err == nil {
		t.Fatal("expected limiter error when redis fails")
	}
}

func TestNewRedisPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedis(context.Background(), "redis://"+srv.Addr(), "p:", 1, time.Minute)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	if err := limiter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url", "p:", 1, time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}
