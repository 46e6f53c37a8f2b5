package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"geass/internal/blobstore"
	"geass/internal/config"
	"geass/internal/daemon"
	"geass/internal/deps"
	"geass/internal/gateway"
	"geass/internal/jobs"
	"geass/internal/logging"
	"geass/internal/metrics"
	"geass/internal/notifications"
	"geass/internal/preflight"
	"geass/internal/ratelimit"
	"geass/internal/retention"
	"geass/internal/services/whisperx"
	"geass/internal/transcription"
	"geass/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
	// Transcriber replaces the WhisperX pipeline when set.
	Transcriber transcription.Transcriber
}

// Run starts the geass daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logPath := logging.RunLogPath(cfg.Paths.LogDir, time.Now())
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update geass.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "geass-*.log", Exclude: []string{logPath}},
	)
	logDependencySnapshot(logger, cfg)
	if err := runPreflight(signalCtx, logger, cfg); err != nil {
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := Assemble(signalCtx, cfg, logger, opts)
	if err != nil {
		logger.Error("assemble daemon", logging.Error(err))
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("geass daemon shutting down")
	return nil
}

// Assemble opens the job store and builds every component the daemon runs.
// The returned daemon owns the store; Close releases it.
func Assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*daemon.Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	closeOnErr := func(err error) (*daemon.Daemon, error) {
		_ = store.Close()
		return nil, err
	}

	blobs, err := blobstore.NewLocal(cfg.UploadsDir(), cfg.SpoolDir(), cfg.Upload.MinFreeMB)
	if err != nil {
		return closeOnErr(err)
	}
	if removed, err := blobs.PurgeSpool(); err != nil {
		logger.Warn("spool cleanup failed", logging.Error(err))
	} else if removed > 0 {
		logger.Info("removed partial uploads from previous run", logging.Int("count", removed))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	limiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return closeOnErr(err)
	}

	transcriber := opts.Transcriber
	if transcriber == nil {
		transcriber = whisperx.NewService(whisperx.Config{
			Model:       cfg.Transcription.Model,
			Language:    cfg.Transcription.Language,
			CUDAEnabled: cfg.Transcription.CUDAEnabled,
			VADMethod:   cfg.Transcription.VADMethod,
			HFToken:     cfg.Transcription.HFToken,
			CacheDir:    cfg.Transcription.CacheDir,
			WorkDir:     cfg.WorkDir(),
		}, cfg.FFmpegBinary())
	}

	manager := workflow.NewManager(cfg, store, transcriber, logger,
		workflow.WithMetrics(m),
		workflow.WithNotifier(notifications.NewService(cfg)),
	)
	sweeper := retention.New(store, blobs, cfg.MaxJobAge(), cfg.SweepInterval(), logger, retention.WithMetrics(m))
	gw := gateway.New(gateway.Config{
		APIToken:   cfg.Auth.APIToken,
		AdminToken: cfg.Auth.AdminToken,
		MaxBytes:   cfg.Upload.MaxBytes,
		Store:      store,
		Limiter:    limiter.Limiter,
		Blobs:      blobs,
		Dispatcher: manager,
		Sweeper:    sweeper,
		Metrics:    m,
		Logger:     logger,
	})

	d, err := daemon.New(cfg, daemon.Components{
		Store:         store,
		Workflow:      manager,
		Gateway:       gw,
		Sweeper:       sweeper,
		Metrics:       m,
		Janitor:       limiter.janitor,
		LimiterCloser: limiter.closer,
		LimiterKind:   limiter.kind,
		Version:       opts.Version,
	}, logger)
	if err != nil {
		if limiter.closer != nil {
			_ = limiter.closer.Close()
		}
		return closeOnErr(fmt.Errorf("create daemon: %w", err))
	}
	return d, nil
}

// rateLimiter is the configured limiter with the lifecycle hooks its backend needs.
type rateLimiter struct {
	ratelimit.Limiter
	kind    string
	janitor daemon.Janitor
	closer  io.Closer
}

func newLimiter(ctx context.Context, cfg *config.Config) (rateLimiter, error) {
	if cfg.RateLimit.Limit <= 0 {
		return rateLimiter{Limiter: ratelimit.Unlimited{}, kind: "disabled"}, nil
	}
	if cfg.RateLimit.RedisURL != "" {
		limiter, err := ratelimit.NewRedis(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.RedisKeyPrefix, cfg.RateLimit.Limit, cfg.RateLimitWindow())
		if err != nil {
			return rateLimiter{}, err
		}
		return rateLimiter{Limiter: limiter, kind: "redis", closer: limiter}, nil
	}
	limiter := ratelimit.NewMemory(cfg.RateLimit.Limit, cfg.RateLimitWindow())
	return rateLimiter{Limiter: limiter, kind: "memory", janitor: limiter}, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "geass.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("whisperx_model", cfg.Transcription.Model),
		logging.Bool("whisperx_cuda", cfg.Transcription.CUDAEnabled),
		logging.String("whisperx_vad_method", cfg.Transcription.VADMethod),
		logging.Bool("hf_token_present", cfg.Transcription.HFToken != ""),
		logging.Bool("redis_rate_limit", cfg.RateLimit.RedisURL != ""),
	}
	for _, status := range statuses {
		attrs = append(attrs, logging.Bool(status.Command+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, missing := range deps.Missing(statuses) {
		logging.WarnWithContext(logger, "required binary missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("detail", missing.Detail),
			logging.String(logging.FieldErrorHint, "install "+missing.Command+" and restart the daemon"),
			logging.String(logging.FieldImpact, "transcriptions will fail until it is available"),
		)
	}
}

// runPreflight logs every readiness check and fails when a required one did not pass.
func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("optional", r.Optional),
		)
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		return fmt.Errorf("preflight: %s: %s", failed[0].Name, failed[0].Detail)
	}
	return nil
}
