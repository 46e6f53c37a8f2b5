package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"geass/internal/blobstore"
	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/metrics"
	"geass/internal/ratelimit"
	"geass/internal/retention"
	"geass/internal/services"
	"geass/internal/textutil"
)

// Submission outcomes, also used as metric labels.
const (
	OutcomeCreated     = "created"
	OutcomeResubmitted = "resubmitted"
	OutcomeInFlight    = "in_flight"
	OutcomeCompleted   = "completed"
)

const fallbackExtension = ".audio"

// Dispatcher wakes the workers after a job is persisted.
type Dispatcher interface {
	Notify()
}

// Source opens the upload. It is only called after the caller has been
// authorized and admitted by the rate limiter.
type Source func() (filename string, body io.Reader, err error)

// SubmitRequest carries one submission.
type SubmitRequest struct {
	Token    string
	ClientID string
	Open     Source
}

// SubmitResult is the job a submission resolved to.
type SubmitResult struct {
	Job     *jobs.Job
	Outcome string
}

// Created reports whether the submission scheduled new work.
func (r *SubmitResult) Created() bool {
	return r.Outcome == OutcomeCreated || r.Outcome == OutcomeResubmitted
}

// Config holds the gateway's collaborators.
type Config struct {
	APIToken   string
	AdminToken string
	MaxBytes   int64
	Store      *jobs.Store
	Limiter    ratelimit.Limiter
	Blobs      *blobstore.Local
	Dispatcher Dispatcher
	Sweeper    *retention.Sweeper
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Gateway implements the client-facing job operations.
type Gateway struct {
	apiToken   []byte
	adminToken []byte
	maxBytes   int64
	store      *jobs.Store
	limiter    ratelimit.Limiter
	blobs      *blobstore.Local
	dispatcher Dispatcher
	sweeper    *retention.Sweeper
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	locks      *keyLocks
}

// New constructs a gateway.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		apiToken:   []byte(cfg.APIToken),
		adminToken: []byte(cfg.AdminToken),
		maxBytes:   cfg.MaxBytes,
		store:      cfg.Store,
		limiter:    limiter,
		blobs:      cfg.Blobs,
		dispatcher: cfg.Dispatcher,
		sweeper:    cfg.Sweeper,
		metrics:    cfg.Metrics,
		logger:     logging.NewComponentLogger(logger, "gateway"),
		now:        now,
		locks:      newKeyLocks(),
	}
}

// Submit registers an upload, returning the job it resolves to. Identical
// content maps to the existing job unless that job failed, in which case the
// failed attempt is discarded and a new one is scheduled.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := g.Authorize(req.Token, RoleClient); err != nil {
		g.metrics.Rejected(services.Kind(err))
		return nil, err
	}
	ctx = services.WithClientID(ctx, req.ClientID)
	logger := logging.WithContext(ctx, g.logger)

	allowed, err := g.limiter.Admit(ctx, req.ClientID, g.now())
	if err != nil {
		g.metrics.Rejected("limiter_error")
		return nil, services.Wrap(services.ErrStorage, "gateway", "rate limit", "limiter unavailable", err)
	}
	if !allowed {
		g.metrics.Rejected(services.Kind(services.ErrRateLimited))
		logger.Info("submission rate limited")
		return nil, services.Wrap(services.ErrRateLimited, "gateway", "submit", "too many submissions, retry later", nil)
	}

	if req.Open == nil {
		return nil, services.Wrap(services.ErrValidation, "gateway", "submit", "no upload provided", nil)
	}
	filename, body, err := req.Open()
	if err != nil {
		g.metrics.Rejected(services.Kind(err))
		return nil, err
	}
	spooled, err := g.blobs.Spool(body, g.maxBytes)
	if err != nil {
		g.metrics.Rejected(services.Kind(err))
		return nil, err
	}

	ctx = services.WithJobKey(ctx, spooled.Key)
	unlock := g.locks.lock(spooled.Key)
	defer unlock()

	result, err := g.resolve(ctx, spooled, textutil.SanitizeFileName(filename))
	if err != nil {
		g.blobs.Discard(spooled)
		return nil, err
	}
	if !result.Created() {
		g.blobs.Discard(spooled)
	}
	g.metrics.Submitted(result.Outcome)
	logging.WithContext(services.WithCallID(ctx, result.Job.CallID), g.logger).Info("submission accepted",
		logging.String("outcome", result.Outcome),
		logging.String(logging.FieldStatus, string(result.Job.Status)),
		logging.Int64("bytes", spooled.Size),
	)
	if result.Created() {
		if err := g.metrics.RefreshJobCounts(ctx, g.store); err != nil {
			logger.Debug("job gauge refresh failed", logging.Error(err))
		}
		if g.dispatcher != nil {
			g.dispatcher.Notify()
		}
	}
	return result, nil
}

// resolve runs inside the per-key critical section. The spooled upload is
// committed only when a new job is created; otherwise the caller discards it.
func (g *Gateway) resolve(ctx context.Context, spooled *blobstore.Spooled, filename string) (*SubmitResult, error) {
	existing, err := g.store.Get(ctx, spooled.Key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "gateway", "lookup job", "", err)
	}

	outcome := OutcomeCreated
	if existing != nil {
		switch existing.Status {
		case jobs.StatusCompleted:
			return &SubmitResult{Job: existing, Outcome: OutcomeCompleted}, nil
		case jobs.StatusPending, jobs.StatusProcessing:
			return &SubmitResult{Job: existing, Outcome: OutcomeInFlight}, nil
		case jobs.StatusFailed:
			if err := g.discardAttempt(ctx, existing); err != nil {
				return nil, err
			}
			outcome = OutcomeResubmitted
		default:
			return nil, services.Wrap(services.ErrStorage, "gateway", "lookup job", fmt.Sprintf("unknown status %q", existing.Status), nil)
		}
	}

	callID := uuid.NewString()
	audioPath, err := g.blobs.Commit(spooled, callID, textutil.AudioExtension(filename, fallbackExtension))
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = callID + fallbackExtension
	}
	job := &jobs.Job{
		Key:       spooled.Key,
		CallID:    callID,
		Status:    jobs.StatusPending,
		Filename:  filename,
		AudioPath: audioPath,
		StartTime: g.now().UTC(),
	}
	created, err := g.store.Create(ctx, job)
	if err != nil {
		_ = g.blobs.Delete(audioPath)
		return nil, services.Wrap(services.ErrStorage, "gateway", "create job", "", err)
	}
	if created {
		return &SubmitResult{Job: job, Outcome: outcome}, nil
	}

	// Another process inserted this key between our lookup and insert.
	_ = g.blobs.Delete(audioPath)
	winner, err := g.store.Get(ctx, spooled.Key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "gateway", "lookup job", "", err)
	}
	if winner == nil {
		return nil, services.Wrap(services.ErrStorage, "gateway", "create job", "job vanished during concurrent create", nil)
	}
	if winner.Status == jobs.StatusCompleted {
		return &SubmitResult{Job: winner, Outcome: OutcomeCompleted}, nil
	}
	return &SubmitResult{Job: winner, Outcome: OutcomeInFlight}, nil
}

// discardAttempt removes a failed job and its audio ahead of a new attempt.
func (g *Gateway) discardAttempt(ctx context.Context, job *jobs.Job) error {
	if _, err := g.store.DeleteAttempt(ctx, job.Key, job.CallID); err != nil {
		return services.Wrap(services.ErrStorage, "gateway", "delete failed job", "", err)
	}
	if err := g.blobs.Delete(job.AudioPath); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, g.logger), "failed to delete audio of failed attempt", "blob_delete_failed",
			logging.String(logging.FieldCallID, job.CallID),
			logging.String("audio_path", job.AudioPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the file manually"),
			logging.String(logging.FieldImpact, "orphaned audio file remains in the uploads directory"),
		)
	}
	return nil
}

// Poll returns the job for callID.
func (g *Gateway) Poll(ctx context.Context, token, callID string) (*jobs.Job, error) {
	if err := g.Authorize(token, RoleClient); err != nil {
		return nil, err
	}
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, services.Wrap(services.ErrValidation, "gateway", "poll", "call_id is required", nil)
	}
	job, err := g.store.GetByCallID(ctx, callID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "gateway", "poll", "", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "gateway", "poll", fmt.Sprintf("no job with call_id %s", callID), nil)
	}
	return job, nil
}

// List returns every stored job. Admin only.
func (g *Gateway) List(ctx context.Context, token string) ([]*jobs.Job, error) {
	if err := g.Authorize(token, RoleAdmin); err != nil {
		return nil, err
	}
	list, err := g.store.List(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "gateway", "list jobs", "", err)
	}
	return list, nil
}

// Reset evicts every job and its audio. Admin only.
func (g *Gateway) Reset(ctx context.Context, token string) (retention.Report, error) {
	if err := g.Authorize(token, RoleAdmin); err != nil {
		return retention.Report{}, err
	}
	if g.sweeper == nil {
		return retention.Report{}, services.Wrap(services.ErrStorage, "gateway", "reset", "sweeper not configured", nil)
	}
	report, err := g.sweeper.Sweep(ctx, true)
	if err != nil {
		return report, services.Wrap(services.ErrStorage, "gateway", "reset", "", err)
	}
	g.logger.Info("job store reset",
		logging.String(logging.FieldEventType, "store_reset"),
		logging.Int("cleaned", report.Cleaned),
		logging.Int("failed", report.Failed),
	)
	return report, nil
}

// Now returns the gateway clock, used to derive job age in responses.
func (g *Gateway) Now() time.Time {
	return g.now()
}
