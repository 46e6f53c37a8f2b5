package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"geass/internal/jobs"
	"geass/internal/logging"
)

// HeartbeatMonitor manages job heartbeats and stale job reclamation.
type HeartbeatMonitor struct {
	store             *jobs.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// orphanCutoff is later than any heartbeat the store can hold.
var orphanCutoff = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// FailOrphans fails every job still marked processing. Call it before any
// worker starts so only jobs from a previous process are affected.
func (h *HeartbeatMonitor) FailOrphans(ctx context.Context) (int64, error) {
	failed, err := h.store.FailStaleProcessing(ctx, orphanCutoff, jobs.ShutdownReason)
	if err != nil {
		return 0, err
	}
	if failed > 0 {
		h.logger.Info("failed jobs orphaned by previous run", logging.Int64("count", failed))
	}
	return failed, nil
}

// ReclaimStale fails processing jobs that have stopped sending heartbeats.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context, logger *slog.Logger) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	failed, err := h.store.FailStaleProcessing(ctx, cutoff, jobs.StaleReason)
	if err != nil {
		return err
	}
	if failed > 0 {
		logger.Info("failed stale processing jobs", logging.Int64("count", failed))
	}
	return nil
}

// StartLoop refreshes the heartbeat of one attempt until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, job *jobs.Job) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, job.Key, job.CallID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
