package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"geass/internal/config"
	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/metrics"
	"geass/internal/notifications"
	"geass/internal/transcription"
)

// Manager coordinates transcription workers over the job store.
type Manager struct {
	store        *jobs.Store
	transcriber  transcription.Transcriber
	logger       *slog.Logger
	metrics      *metrics.Metrics
	notifier     notifications.Service
	workers      int
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time

	heartbeat *HeartbeatMonitor
	wake      chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *jobs.Job
	busy    int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithMetrics records worker activity on m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithNotifier pushes job outcomes through svc.
func WithNotifier(svc notifications.Service) ManagerOption {
	return func(mgr *Manager) {
		mgr.notifier = svc
	}
}

// NewManager constructs a workflow manager from the worker settings in cfg.
func NewManager(cfg *config.Config, store *jobs.Store, transcriber transcription.Transcriber, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		store:        store,
		transcriber:  transcriber,
		logger:       logger,
		workers:      max(cfg.Worker.Concurrency, 1),
		pollInterval: time.Duration(cfg.Worker.PollInterval) * time.Second,
		timeout:      cfg.TranscriptionTimeout(),
		now:          time.Now,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Worker.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Worker.HeartbeatTimeout)*time.Second,
		),
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Notify wakes an idle worker. It never blocks.
func (m *Manager) Notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
