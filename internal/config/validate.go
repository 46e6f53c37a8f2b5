package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAuth() error {
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	if c.Auth.APIToken == "" {
		return fmt.Errorf("auth.api_token is required. Set GEASS_API_TOKEN env var or edit %s (create with 'geass config init')", defaultPath)
	}
	if c.Auth.AdminToken == "" {
		return fmt.Errorf("auth.admin_token is required. Set GEASS_ADMIN_TOKEN env var or edit %s (create with 'geass config init')", defaultPath)
	}
	if c.Auth.APIToken == c.Auth.AdminToken {
		return errors.New("auth.admin_token must differ from auth.api_token")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.Limit < 0 {
		return errors.New("rate_limit.limit must be >= 0 (0 disables limiting)")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return errors.New("rate_limit.window_seconds must be positive")
	}
	if c.RateLimit.RedisURL != "" {
		parsed, err := url.Parse(c.RateLimit.RedisURL)
		if err != nil {
			return fmt.Errorf("rate_limit.redis_url: %w", err)
		}
		if parsed.Scheme != "redis" && parsed.Scheme != "rediss" {
			return fmt.Errorf("rate_limit.redis_url must use redis:// or rediss://, got %q", parsed.Scheme)
		}
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.MaxJobAgeSeconds <= 0 {
		return errors.New("retention.max_job_age_seconds must be positive (or set MAX_JOB_AGE)")
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		return errors.New("retention.sweep_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if err := ensurePositiveMap(map[string]int{
		"worker.concurrency":                   c.Worker.Concurrency,
		"worker.poll_interval":                 c.Worker.PollInterval,
		"worker.heartbeat_interval":            c.Worker.HeartbeatInterval,
		"worker.heartbeat_timeout":             c.Worker.HeartbeatTimeout,
		"worker.transcription_timeout_seconds": c.Worker.TranscriptionTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Worker.HeartbeatTimeout <= c.Worker.HeartbeatInterval {
		return errors.New("worker.heartbeat_timeout must be greater than worker.heartbeat_interval")
	}
	if strings.TrimSpace(c.Transcription.Model) == "" {
		return errors.New("transcription.model must be set")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if c.Upload.MinFreeMB < 0 {
		return errors.New("upload.min_free_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
