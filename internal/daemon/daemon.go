package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"geass/internal/config"
	"geass/internal/deps"
	"geass/internal/gateway"
	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/metrics"
	"geass/internal/retention"
	"geass/internal/workflow"
)

// Janitor is implemented by rate limiters that keep state needing periodic pruning.
type Janitor interface {
	RunJanitor(ctx context.Context)
}

// Components are the collaborators a daemon runs.
type Components struct {
	Store    *jobs.Store
	Workflow *workflow.Manager
	Gateway  *gateway.Gateway
	Sweeper  *retention.Sweeper
	Metrics  *metrics.Metrics
	Janitor  Janitor
	// LimiterCloser releases the rate limiter's connections on Close.
	LimiterCloser io.Closer
	// LimiterKind names the rate limiter backend for health output.
	LimiterKind string
	Version     string
}

// Daemon coordinates background processing and the HTTP API, and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	components Components

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	RateLimiter  string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, components Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || components.Store == nil || components.Workflow == nil || components.Gateway == nil || components.Sweeper == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, gateway, and sweeper")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		components: components,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workers and sweeper, and
// begins serving HTTP.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another geass daemon is already using %s", d.cfg.Paths.DataDir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.components.Workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(); err != nil {
		cancel()
		d.components.Workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		d.components.Sweeper.Run(runCtx)
	}()
	if d.components.Janitor != nil {
		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			d.components.Janitor.RunJanitor(runCtx)
		}()
	}

	d.running.Store(true)
	d.logger.Info("geass daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
	)
	return nil
}

// Stop drains HTTP, stops the workers and background loops, and releases
// the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.components.Workflow.Stop()
	d.bg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("geass daemon stopped")
}

// Close stops the daemon and releases the rate limiter and job store.
func (d *Daemon) Close() error {
	d.Stop()
	var limiterErr error
	if d.components.LimiterCloser != nil {
		if limiterErr = d.components.LimiterCloser.Close(); limiterErr != nil {
			limiterErr = fmt.Errorf("close rate limiter: %w", limiterErr)
		}
	}
	return errors.Join(limiterErr, d.components.Store.Close())
}

// Addr returns the address the HTTP server is listening on.
func (d *Daemon) Addr() string {
	return d.api.address()
}

// Handler exposes the HTTP routes without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	limiter := d.components.LimiterKind
	if limiter == "" {
		limiter = "memory"
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.components.Workflow.Status(ctx),
		DatabasePath: d.components.Store.Path(),
		LockFilePath: d.lockPath,
		RateLimiter:  limiter,
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (jobs.DatabaseHealth, error) {
	return d.components.Store.CheckHealth(ctx)
}
