package services_test

import (
	"context"
	"testing"

	"geass/internal/services"
)

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobKey(ctx, "abc")
	ctx = services.WithCallID(ctx, "call-1")
	ctx = services.WithClientID(ctx, "10.0.0.1")
	ctx = services.WithRequestID(ctx, "req-9")

	if v, ok := services.JobKeyFromContext(ctx); !ok || v != "abc" {
		t.Fatalf("job key = %q, %v", v, ok)
	}
	if v, ok := services.CallIDFromContext(ctx); !ok || v != "call-1" {
		t.Fatalf("call id = %q, %v", v, ok)
	}
	if v, ok := services.ClientIDFromContext(ctx); !ok || v != "10.0.0.1" {
		t.Fatalf("client id = %q, %v", v, ok)
	}
	if v, ok := services.RequestIDFromContext(ctx); !ok || v != "req-9" {
		t.Fatalf("request id = %q, %v", v, ok)
	}
}

func TestContextHelpersIgnoreEmpty(t *testing.T) {
	ctx := services.WithCallID(context.Background(), "")
	if _, ok := services.CallIDFromContext(ctx); ok {
		t.Fatal("expected empty call id to be ignored")
	}
	if _, ok := services.JobKeyFromContext(context.Background()); ok {
		t.Fatal("expected missing job key")
	}
}
