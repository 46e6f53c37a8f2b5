// Package retention evicts expired jobs together with their audio.
//
// A Sweeper runs once at startup and then on a fixed interval. Each pass
// deletes the stored audio of every job older than the maximum age before
// removing the job record; a full reset treats every job as expired. A job
// whose audio cannot be deleted is logged and kept for the next pass, and the
// sweep moves on.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/metrics"
)

// BlobDeleter removes stored audio. Deleting a missing blob must succeed.
type BlobDeleter interface {
	Delete(path string) error
}

// Report summarises one sweep.
type Report struct {
	Scanned int  `json:"scanned"`
	Cleaned int  `json:"cleaned"`
	Failed  int  `json:"failed"`
	All     bool `json:"all"`
}

// Sweeper deletes jobs older than MaxAge.
type Sweeper struct {
	store    *jobs.Store
	blobs    BlobDeleter
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu sync.Mutex
}

// Option configures optional Sweeper behavior.
type Option func(*Sweeper)

// WithMetrics records sweep results on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock replaces the wall clock used to compute job age.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a sweeper.
func New(store *jobs.Store, blobs BlobDeleter, maxAge, interval time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Sweeper{
		store:    store,
		blobs:    blobs,
		maxAge:   maxAge,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "retention"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep evicts expired jobs, or every job when all is set. Only one sweep
// runs at a time; a reset issued during a scheduled pass waits for it.
func (s *Sweeper) Sweep(ctx context.Context, all bool) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{All: all}
	list, err := s.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs for sweep: %w", err)
	}
	now := s.now()
	for _, job := range list {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		if !all && job.Age(now) <= s.maxAge {
			continue
		}
		if s.evict(ctx, job) {
			report.Cleaned++
		} else {
			report.Failed++
		}
	}
	s.metrics.Swept(report.Cleaned, report.Failed)
	if err := s.metrics.RefreshJobCounts(ctx, s.store); err != nil {
		s.logger.Debug("job gauge refresh failed", logging.Error(err))
	}
	s.logger.Info("retention sweep finished",
		logging.String(logging.FieldEventType, "retention_sweep"),
		logging.Bool("reset", all),
		logging.Int("scanned", report.Scanned),
		logging.Int("cleaned", report.Cleaned),
		logging.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Sweeper) evict(ctx context.Context, job *jobs.Job) bool {
	logger := s.logger.With(
		logging.String(logging.FieldJobKey, job.Key),
		logging.String(logging.FieldCallID, job.CallID),
	)
	if err := s.blobs.Delete(job.AudioPath); err != nil {
		logging.WarnWithContext(logger, "audio deletion failed; job kept for next sweep", "retention_blob_delete_failed",
			logging.String("audio_path", job.AudioPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the uploads directory"),
			logging.String(logging.FieldImpact, "job and audio remain until the next sweep"),
		)
		return false
	}
	if _, err := s.store.DeleteAttempt(ctx, job.Key, job.CallID); err != nil {
		logging.WarnWithContext(logger, "job record deletion failed", "retention_record_delete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.String(logging.FieldImpact, "job record remains until the next sweep"),
		)
		return false
	}
	logger.Debug("job evicted", logging.String(logging.FieldStatus, string(job.Status)))
	return true
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.runOnce(ctx)
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.Sweep(ctx, false); err != nil && ctx.Err() == nil {
		logging.ErrorWithContext(s.logger, "retention sweep failed", "retention_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
	}
}
