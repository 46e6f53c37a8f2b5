package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"geass/internal/api"
	"geass/internal/config"
	"geass/internal/gateway"
	"geass/internal/logging"
	"geass/internal/services"
)

// multipartOverhead is the allowance for form boundaries and part headers
// on top of the configured upload limit.
const multipartOverhead = 1 << 20

type apiServer struct {
	bind              string
	logger            *slog.Logger
	daemon            *Daemon
	gateway           *gateway.Gateway
	maxBytes          int64
	trustForwardedFor bool
	retryAfter        string

	handler http.Handler
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:              cfg.Paths.APIBind,
		logger:            logging.NewComponentLogger(logger, "api-server"),
		daemon:            d,
		gateway:           d.components.Gateway,
		maxBytes:          cfg.Upload.MaxBytes,
		trustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		retryAfter:        strconv.Itoa(cfg.RateLimit.WindowSeconds),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", srv.handleTranscribe)
	mux.HandleFunc("GET /status/{call_id}", srv.handleStatus)
	mux.HandleFunc("GET /jobs", srv.handleJobs)
	mux.HandleFunc("GET /reset", srv.handleReset)
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	if m := d.components.Metrics; m != nil && cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", m.Handler())
	}

	srv.handler = srv.withRequestContext(mux)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *apiServer) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := services.WithRequestID(r.Context(), requestID)
		ctx = services.WithClientID(ctx, clientIdentity(r, s.trustForwardedFor))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("request handled",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

func (s *apiServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+multipartOverhead)
	result, err := s.gateway.Submit(r.Context(), gateway.SubmitRequest{
		Token:    bearerToken(r),
		ClientID: clientIdentity(r, s.trustForwardedFor),
		Open:     uploadSource(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	message := "transcription queued"
	switch result.Outcome {
	case gateway.OutcomeCompleted:
		status = http.StatusOK
		message = "transcription already completed"
	case gateway.OutcomeInFlight:
		message = "transcription already in progress"
	case gateway.OutcomeResubmitted:
		message = "previous attempt failed; transcription requeued"
	}
	s.writeData(w, status, message, api.FromJob(result.Job))
}

// uploadSource reads the "file" part of a multipart form, or the raw body
// named by the filename query parameter.
func uploadSource(r *http.Request) gateway.Source {
	return func() (string, io.Reader, error) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
			return r.URL.Query().Get("filename"), r.Body, nil
		}
		reader, err := r.MultipartReader()
		if err != nil {
			return "", nil, services.Wrap(services.ErrValidation, "api", "parse upload", "malformed multipart body", err)
		}
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				return "", nil, services.Wrap(services.ErrValidation, "api", "parse upload", `multipart form has no "file" field`, nil)
			}
			if err != nil {
				return "", nil, services.Wrap(services.ErrValidation, "api", "parse upload", "malformed multipart body", err)
			}
			if part.FormName() == "file" {
				return part.FileName(), part, nil
			}
		}
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.gateway.Poll(r.Context(), bearerToken(r), r.PathValue("call_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, "", api.FromJob(job))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.gateway.List(r.Context(), bearerToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, "", api.FromJobs(list, s.gateway.Now()))
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	report, err := s.gateway.Reset(r.Context(), bearerToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message := fmt.Sprintf("reset complete: %d jobs removed", report.Cleaned)
	if report.Failed > 0 {
		message = fmt.Sprintf("reset incomplete: %d jobs removed, %d kept after cleanup errors", report.Cleaned, report.Failed)
	}
	s.writeData(w, http.StatusOK, message, api.FromReport(report))
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	health := "ok"
	if !status.Running {
		health = "stopped"
	}
	s.writeData(w, http.StatusOK, "", api.Health{
		Status:       health,
		Version:      s.daemon.components.Version,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		RateLimiter:  status.RateLimiter,
		Workflow:     api.FromStatusSummary(status.Workflow, s.gateway.Now()),
		Dependencies: deps,
	})
}

func (s *apiServer) writeData(w http.ResponseWriter, status int, message string, data any) {
	env, err := api.NewEnvelope(message, data)
	if err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, api.Envelope{Message: "internal error", Error: "storage"})
		return
	}
	s.writeJSON(w, status, env)
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classifyError(err)
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="geass"`)
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", s.retryAfter)
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database and uploads directory"),
		)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	s.writeJSON(w, status, api.Envelope{Message: message, Error: kind})
}

// classifyError maps error markers onto HTTP status codes and stable kinds.
func classifyError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "too_large"
	}
	kind := services.Kind(err)
	switch kind {
	case "unauthorized":
		return http.StatusUnauthorized, kind
	case "rate_limited":
		return http.StatusTooManyRequests, kind
	case "validation":
		return http.StatusBadRequest, kind
	case "too_large":
		return http.StatusRequestEntityTooLarge, kind
	case "insufficient_storage":
		return http.StatusInsufficientStorage, kind
	case "not_found":
		return http.StatusNotFound, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
