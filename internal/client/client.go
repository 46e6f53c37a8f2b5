package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geass/internal/api"
)

// ErrAPIUnavailable reports that no daemon is reachable at the configured bind.
var ErrAPIUnavailable = errors.New("geass API unavailable")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	RetryAfter string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", msg, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", msg, e.StatusCode)
}

// Client issues authenticated requests against one daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Submission is the daemon's answer to an upload.
type Submission struct {
	Job     api.Job
	Message string
	// Cached is true when the daemon answered with a previously completed
	// transcript instead of queueing work.
	Cached bool
}

// New builds a client for the daemon listening on bind. Uploads are
// unbounded in time, so the HTTP client carries no global timeout; callers
// bound requests through ctx.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{base: base, token: token, http: &http.Client{}}, nil
}

// SubmitFile uploads the audio file at path.
func (c *Client) SubmitFile(ctx context.Context, path string) (Submission, error) {
	file, err := os.Open(path)
	if err != nil {
		return Submission{}, err
	}
	defer file.Close()
	return c.Submit(ctx, filepath.Base(path), file)
}

// Submit streams body as the "file" part of a multipart upload.
func (c *Client) Submit(ctx context.Context, filename string, body io.Reader) (Submission, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/transcribe", pr)
	if err != nil {
		pr.Close()
		return Submission{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out Submission
	env, status, err := c.do(req, &out.Job)
	if err != nil {
		return Submission{}, err
	}
	out.Message = env.Message
	out.Cached = status == http.StatusOK
	return out, nil
}

// Status polls a job by call id.
func (c *Client) Status(ctx context.Context, callID string) (api.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/status/"+url.PathEscape(callID), nil)
	if err != nil {
		return api.Job{}, err
	}
	var job api.Job
	_, _, err = c.do(req, &job)
	return job, err
}

// Wait polls callID every interval until it reaches a terminal status or
// ctx ends.
func (c *Client) Wait(ctx context.Context, callID string, interval time.Duration) (api.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Status(ctx, callID)
		if err != nil {
			return job, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Jobs lists every stored job. Requires the admin token.
func (c *Client) Jobs(ctx context.Context) (api.JobList, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/jobs", nil)
	if err != nil {
		return api.JobList{}, err
	}
	var list api.JobList
	_, _, err = c.do(req, &list)
	return list, err
}

// Reset evicts every job and its audio. Requires the admin token.
func (c *Client) Reset(ctx context.Context) (api.ResetResult, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/reset", nil)
	if err != nil {
		return api.ResetResult{}, "", err
	}
	var result api.ResetResult
	env, _, err := c.do(req, &result)
	return result, env.Message, err
}

// Health fetches the unauthenticated liveness report.
func (c *Client) Health(ctx context.Context) (api.Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return api.Health{}, err
	}
	var health api.Health
	_, _, err = c.do(req, &health)
	return health, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c == nil {
		return nil, ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, target any) (api.Envelope, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return api.Envelope{}, 0, err
	}
	defer resp.Body.Close()

	var env api.Envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 400 {
		return env, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       env.Error,
			Message:    env.Message,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}
	if decodeErr != nil {
		return env, resp.StatusCode, fmt.Errorf("decode %s response: %w", req.URL.Path, decodeErr)
	}
	if target != nil {
		if err := env.Decode(target); err != nil {
			return env, resp.StatusCode, fmt.Errorf("decode %s payload: %w", req.URL.Path, err)
		}
	}
	return env, resp.StatusCode, nil
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
