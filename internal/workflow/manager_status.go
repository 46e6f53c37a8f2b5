package workflow

import (
	"context"

	"geass/internal/jobs"
	"geass/internal/logging"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	BusyWorkers int
	LastError   string
	LastJob     *jobs.Job
	JobStats    map[jobs.Status]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:     m.running,
		Workers:     m.workers,
		BusyWorkers: m.busy,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats
	m.refreshJobGauge(ctx)
	return summary
}

// refreshJobGauge republishes per-status job counts after a state change.
func (m *Manager) refreshJobGauge(ctx context.Context) {
	if err := m.metrics.RefreshJobCounts(ctx, m.store); err != nil {
		m.logger.Debug("job gauge refresh failed", logging.Error(err))
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
