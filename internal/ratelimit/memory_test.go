package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryAdmitsUpToLimit(t *testing.T) {
	limiter := NewMemory(2, time.Minute)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := range 2 {
		ok, err := limiter.Admit(ctx, "client", base.Add(time.Duration(i)*time.Second))
		if err != nil || !ok {
			t.Fatalf("request %d: admit=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := limiter.Admit(ctx, "client", base.Add(2*time.Second)); ok {
		t.Fatal("expected third request rejected")
	}
	if ok, _ := limiter.Admit(ctx, "other", base.Add(2*time.Second)); !ok {
		t.Fatal("expected other client unaffected")
	}
}

func TestMemoryWindowSlides(t *testing.T) {
	limiter := NewMemory(1, time.Minute)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if ok, _ := limiter.Admit(ctx, "c", base); !ok {
		t.Fatal("expected first admit")
	}
	if ok, _ := limiter.Admit(ctx, "c", base.Add(59*time.Second)); ok {
		t.Fatal("expected rejection inside window")
	}
	// Rejections are not recorded, so the window still ends one minute after the first hit.
	if ok, _ := limiter.Admit(ctx, "c", base.Add(time.Minute)); !ok {
		t.Fatal("expected admit once the first hit leaves the window")
	}
}

func TestMemoryEvictsOutOfOrderHits(t *testing.T) {
	limiter := NewMemory(2, time.Minute)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	// A later clock sample can win the entry lock first.
	for _, at := range []time.Time{base.Add(30 * time.Second), base} {
		if ok, _ := limiter.Admit(ctx, "client", at); !ok {
			t.Fatalf("expected admission at %v", at)
		}
	}
	if ok, _ := limiter.Admit(ctx, "client", base.Add(61*time.Second)); !ok {
		t.Fatal("expected admission once the older hit left the window")
	}
	if ok, _ := limiter.Admit(ctx, "client", base.Add(62*time.Second)); ok {
		t.Fatal("expected rejection with two hits inside the window")
	}
}

func TestMemoryZeroLimitDisables(t *testing.T) {
	limiter := NewMemory(0, time.Minute)
	for range 100 {
		if ok, _ := limiter.Admit(context.Background(), "c", time.Now()); !ok {
			t.Fatal("expected unlimited admission")
		}
	}
	if limiter.Clients() != 0 {
		t.Fatal("expected no state tracked when disabled")
	}
}

func TestMemoryPrune(t *testing.T) {
	limiter := NewMemory(5, time.Minute)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_, _ = limiter.Admit(ctx, "old", base)
	_, _ = limiter.Admit(ctx, "fresh", base.Add(50*time.Second))

	if removed := limiter.Prune(base.Add(90 * time.Second)); removed != 1 {
		t.Fatalf("expected one client pruned, got %d", removed)
	}
	if limiter.Clients() != 1 {
		t.Fatalf("expected one remaining client, got %d", limiter.Clients())
	}
	if ok, _ := limiter.Admit(ctx, "old", base.Add(91*time.Second)); !ok {
		t.Fatal("expected pruned client to start fresh")
	}
}

func TestMemoryConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	const limit = 25
	limiter := NewMemory(limit, time.Hour)
	now := time.Now()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Admit(context.Background(), "shared", now); ok {
				admitted.Add(1)
			}
			limiter.Prune(now)
		}()
	}
	wg.Wait()
	if got := admitted.Load(); got != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, got)
	}
}

func TestUnlimited(t *testing.T) {
	var limiter Limiter = Unlimited{}
	if ok, err := limiter.Admit(context.Background(), "x", time.Now()); !ok || err != nil {
		t.Fatalf("unexpected result %v %v", ok, err)
	}
}
