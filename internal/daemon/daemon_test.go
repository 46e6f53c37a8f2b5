package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"geass/internal/api"
	"geass/internal/config"
	"geass/internal/daemon"
	"geass/internal/daemonrun"
	"geass/internal/logging"
	"geass/internal/testsupport"
	"geass/internal/transcription"
)

func echoTranscriber() transcription.Transcriber {
	return transcription.Func(func(context.Context, string) (transcription.Transcript, error) {
		return transcription.FromSegments([]transcription.Segment{{Start: 0, End: 2, Text: "hello world"}}), nil
	})
}

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	d, err := daemonrun.Assemble(context.Background(), cfg, logging.NewNop(), daemonrun.Options{Transcriber: echoTranscriber()})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func multipartUpload(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, writer.FormDataContentType()
}

func do(t *testing.T, method, url, token string, body io.Reader, contentType string) (*http.Response, api.Envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var env api.Envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, env
}

func TestHTTPRoutes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	body, ctype := multipartUpload(t, "meeting.wav", []byte("RIFF fake audio"))
	resp, env := do(t, http.MethodPost, srv.URL+"/transcribe", testsupport.APIToken, body, ctype)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%+v)", resp.StatusCode, env)
	}
	var job api.Job
	if err := env.Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.CallID == "" || job.Status != "pending" {
		t.Fatalf("unexpected submit response %+v", job)
	}

	resp, env = do(t, http.MethodGet, srv.URL+"/status/"+job.CallID, testsupport.APIToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from status, got %d", resp.StatusCode)
	}
	resp, env = do(t, http.MethodGet, srv.URL+"/status/does-not-exist", testsupport.APIToken, nil, "")
	if resp.StatusCode != http.StatusNotFound || env.Error != "not_found" || env.Message == "" {
		t.Fatalf("expected 404 envelope, got %d %+v", resp.StatusCode, env)
	}
	resp, env = do(t, http.MethodGet, srv.URL+"/status/"+job.CallID, "", nil, "")
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 with challenge, got %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/jobs", testsupport.APIToken, nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected client token refused on /jobs, got %d", resp.StatusCode)
	}
	resp, env = do(t, http.MethodGet, srv.URL+"/jobs", testsupport.AdminToken, nil, "")
	var list api.JobList
	if err := env.Decode(&list); err != nil || resp.StatusCode != http.StatusOK || list.Count != 1 {
		t.Fatalf("unexpected job list %d %+v %v", resp.StatusCode, list, err)
	}
	if list.Jobs[0].Filename != "meeting.wav" {
		t.Fatalf("unexpected filename %q", list.Jobs[0].Filename)
	}

	resp, env = do(t, http.MethodGet, srv.URL+"/healthz", "", nil, "")
	var health api.Health
	if err := env.Decode(&health); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, err)
	}
	if health.RateLimiter != "memory" || health.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected health payload %+v", health)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", resp.StatusCode)
	}

	resp, env = do(t, http.MethodGet, srv.URL+"/reset", testsupport.AdminToken, nil, "")
	var reset api.ResetResult
	if err := env.Decode(&reset); err != nil || resp.StatusCode != http.StatusOK || reset.Cleaned != 1 {
		t.Fatalf("unexpected reset %d %+v %v", resp.StatusCode, reset, err)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/status/"+job.CallID, testsupport.APIToken, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected job gone after reset, got %d", resp.StatusCode)
	}
}

func TestSubmitRejections(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRateLimit(1, 60))
	cfg.Upload.MaxBytes = 8
	d := newDaemon(t, cfg)
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, env := do(t, http.MethodPost, srv.URL+"/transcribe?filename=big.wav", testsupport.APIToken, strings.NewReader("far more than eight bytes"), "audio/wav")
	if resp.StatusCode != http.StatusRequestEntityTooLarge || env.Error != "too_large" {
		t.Fatalf("expected 413, got %d %+v", resp.StatusCode, env)
	}

	resp, env = do(t, http.MethodPost, srv.URL+"/transcribe?filename=a.wav", testsupport.APIToken, strings.NewReader("tiny"), "audio/wav")
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d %+v", resp.StatusCode, env)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/transcribe", "bogus", strings.NewReader("tiny"), "audio/wav")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRedisLimiterSharedAndClosed(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRateLimit(1, 60))
	cfg.RateLimit.RedisURL = "redis://" + redisSrv.Addr()
	d, err := daemonrun.Assemble(context.Background(), cfg, logging.NewNop(), daemonrun.Options{Transcriber: echoTranscriber()})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if kind := d.Status(context.Background()).RateLimiter; kind != "redis" {
		t.Fatalf("expected redis limiter, got %q", kind)
	}
	srv := httptest.NewServer(d.Handler())

	resp, env := do(t, http.MethodPost, srv.URL+"/transcribe?filename=a.wav", testsupport.APIToken, strings.NewReader("first"), "audio/wav")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %+v", resp.StatusCode, env)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/transcribe?filename=b.wav", testsupport.APIToken, strings.NewReader("second"), "audio/wav")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 from shared window, got %d", resp.StatusCode)
	}
	if keys := redisSrv.Keys(); len(keys) != 1 {
		t.Fatalf("expected one client window in redis, got %v", keys)
	}
	srv.Close()

	if redisSrv.CurrentConnectionCount() == 0 {
		t.Fatal("expected limiter to hold a redis connection")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for redisSrv.CurrentConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("redis connections still open after Close: %d", redisSrv.CurrentConnectionCount())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMissingFileFieldIsBadRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("note", "no audio here")
	_ = writer.Close()

	resp, env := do(t, http.MethodPost, srv.URL+"/transcribe", testsupport.APIToken, &body, writer.FormDataContentType())
	if resp.StatusCode != http.StatusBadRequest || env.Error != "validation" {
		t.Fatalf("expected 400, got %d %+v", resp.StatusCode, env)
	}
}

func TestDaemonTranscribesEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.PollInterval = 1
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()
	base := "http://" + d.Addr()

	resp, env := do(t, http.MethodPost, base+"/transcribe?filename=clip.mp3", testsupport.APIToken, strings.NewReader("silence"), "audio/mpeg")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %+v", resp.StatusCode, env)
	}
	var job api.Job
	if err := env.Decode(&job); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		_, env = do(t, http.MethodGet, base+"/status/"+job.CallID, testsupport.APIToken, nil, "")
		if err := env.Decode(&job); err != nil {
			t.Fatal(err)
		}
		if job.Status == "completed" {
			break
		}
		if job.Status == "failed" || time.Now().After(deadline) {
			t.Fatalf("job did not complete: %+v", job)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if job.Transcript == nil || job.Transcript.Text != "hello world" || job.TimeTaken == nil || *job.TimeTaken < 0 {
		t.Fatalf("unexpected completed job %+v", job)
	}

	resp, env = do(t, http.MethodPost, base+"/transcribe?filename=again.mp3", testsupport.APIToken, strings.NewReader("silence"), "audio/mpeg")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for completed duplicate, got %d", resp.StatusCode)
	}
	var dup api.Job
	if err := env.Decode(&dup); err != nil || dup.CallID != job.CallID || dup.Transcript == nil {
		t.Fatalf("unexpected duplicate response %+v %v", dup, err)
	}
}

func TestSecondDaemonCannotShareDataDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second := newDaemon(t, cfg)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second daemon to fail acquiring the lock")
	}
}
