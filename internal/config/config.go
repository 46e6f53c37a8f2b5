package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Auth holds the bearer tokens accepted by the HTTP API. The admin token also
// satisfies client-level checks.
type Auth struct {
	APIToken   string `toml:"api_token"`
	AdminToken string `toml:"admin_token"`
}

// RateLimit configures per-client sliding-window admission for submissions.
type RateLimit struct {
	Limit             int    `toml:"limit"`
	WindowSeconds     int    `toml:"window_seconds"`
	RedisURL          string `toml:"redis_url"`
	RedisKeyPrefix    string `toml:"redis_key_prefix"`
	TrustForwardedFor bool   `toml:"trust_forwarded_for"`
}

// Retention controls how long finished and abandoned jobs are kept.
type Retention struct {
	MaxJobAgeSeconds     int `toml:"max_job_age_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// Worker contains transcription worker pool timing.
type Worker struct {
	Concurrency                 int `toml:"concurrency"`
	PollInterval                int `toml:"poll_interval"`
	HeartbeatInterval           int `toml:"heartbeat_interval"`
	HeartbeatTimeout            int `toml:"heartbeat_timeout"`
	TranscriptionTimeoutSeconds int `toml:"transcription_timeout_seconds"`
}

// Transcription contains WhisperX settings.
type Transcription struct {
	Model       string `toml:"model"`
	Language    string `toml:"language"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method"`
	HFToken     string `toml:"hf_token"`
	CacheDir    string `toml:"cache_dir"`
}

// Upload bounds accepted request bodies.
type Upload struct {
	MaxBytes  int64 `toml:"max_bytes"`
	MinFreeMB int64 `toml:"min_free_mb"`
}

// Notifications configures ntfy push messages for finished transcriptions.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnCompleted    bool   `toml:"on_completed"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Geass.
//
// Configuration sections by subsystem:
//   - Paths: data, log directories and API bind address
//   - Auth: client and admin bearer tokens
//   - RateLimit: per-client submission admission
//   - Retention: job TTL and sweep schedule
//   - Worker: transcription pool size, polling, heartbeats
//   - Transcription: WhisperX model settings
//   - Upload: body size and free-space limits
//   - Notifications: ntfy push on job outcomes
//   - Metrics: Prometheus exposition
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Auth          Auth          `toml:"auth"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Retention     Retention     `toml:"retention"`
	Worker        Worker        `toml:"worker"`
	Transcription Transcription `toml:"transcription"`
	Upload        Upload        `toml:"upload"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is
// loaded first; variables already present in the environment win.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	loadDotEnv()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	// godotenv.Load never overrides variables that are already set.
	_ = godotenv.Load()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("geass.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.UploadsDir(), c.SpoolDir(), c.WorkDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "geass.lock")
}

// PIDPath is written by a running daemon and removed on clean exit.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "geass.pid")
}

// UploadsDir holds committed audio blobs.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.Paths.DataDir, "uploads")
}

// SpoolDir holds uploads that are still being received.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.Paths.DataDir, "spool")
}

// WorkDir holds per-job scratch space for the transcriber.
func (c *Config) WorkDir() string {
	return filepath.Join(c.Paths.DataDir, "work")
}

// FFmpegBinary returns the ffmpeg executable name used to normalise audio.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// RateLimitWindow returns the sliding window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// MaxJobAge returns the retention TTL.
func (c *Config) MaxJobAge() time.Duration {
	return time.Duration(c.Retention.MaxJobAgeSeconds) * time.Second
}

// SweepInterval returns how often the retention sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalSeconds) * time.Second
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// TranscriptionTimeout bounds a single transcriber invocation.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Worker.TranscriptionTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
