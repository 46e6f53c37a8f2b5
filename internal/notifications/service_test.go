package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"geass/internal/config"
	"geass/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyTranscriptionFailed(context.Background(), "a.wav", "id", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.OnCompleted = true
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyTranscriptionCompleted(ctx, "memo.wav", "call-1", 90*time.Second); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := svc.NotifyTranscriptionFailed(ctx, "", "call-2", "ffmpeg exited 1"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("disk full"), "retention sweep"); err != nil {
		t.Fatalf("error: %v", err)
	}

	if len(*got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(*got))
	}
	completed, failed, alert := (*got)[0], (*got)[1], (*got)[2]
	if completed.title != "Geass - Transcribed" || completed.body != "Transcribed memo.wav in 1m30s\nCall: call-1" {
		t.Fatalf("unexpected completed payload %+v", completed)
	}
	if completed.priority != "" {
		t.Fatalf("expected default priority, got %q", completed.priority)
	}
	if failed.tags != "geass,transcription,failed" || failed.priority != "high" {
		t.Fatalf("unexpected failed headers %+v", failed)
	}
	if !strings.Contains(failed.body, "Could not transcribe upload: ffmpeg exited 1") {
		t.Fatalf("unexpected failed body %q", failed.body)
	}
	if alert.body != "Error with retention sweep: disk full" {
		t.Fatalf("unexpected error body %q", alert.body)
	}
}

func TestCompletedNotificationsAreOptIn(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyTranscriptionCompleted(context.Background(), "memo.wav", "call-1", time.Second); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("expected no request without on_completed, got %d", len(*got))
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
