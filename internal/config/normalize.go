package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"geass/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAuth()
	if err := c.normalizeRateLimit(); err != nil {
		return err
	}
	if err := c.normalizeRetention(); err != nil {
		return err
	}
	if err := c.normalizeTranscription(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeAuth() {
	envString("GEASS_API_TOKEN", &c.Auth.APIToken)
	envString("GEASS_ADMIN_TOKEN", &c.Auth.AdminToken)
}

func (c *Config) normalizeRateLimit() error {
	if err := envInt("RATE_LIMIT", &c.RateLimit.Limit); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_WINDOW", &c.RateLimit.WindowSeconds); err != nil {
		return err
	}
	envString("GEASS_REDIS_URL", &c.RateLimit.RedisURL)
	c.RateLimit.RedisKeyPrefix = strings.TrimSpace(c.RateLimit.RedisKeyPrefix)
	if c.RateLimit.RedisKeyPrefix == "" {
		c.RateLimit.RedisKeyPrefix = defaultRedisKeyPrefix
	}
	return nil
}

func (c *Config) normalizeRetention() error {
	if err := envInt("MAX_JOB_AGE", &c.Retention.MaxJobAgeSeconds); err != nil {
		return err
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		c.Retention.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	return nil
}

func (c *Config) normalizeTranscription() error {
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	if language.IsAuto(c.Transcription.Language) {
		c.Transcription.Language = ""
	} else {
		code := language.ToISO2(c.Transcription.Language)
		if code == "" {
			return fmt.Errorf("transcription.language: unrecognized language %q", c.Transcription.Language)
		}
		c.Transcription.Language = code
	}
	c.Transcription.VADMethod = strings.ToLower(strings.TrimSpace(c.Transcription.VADMethod))
	if c.Transcription.VADMethod == "" {
		c.Transcription.VADMethod = defaultVADMethod
	}
	envString("HF_TOKEN", &c.Transcription.HFToken)
	envString("HUGGING_FACE_HUB_TOKEN", &c.Transcription.HFToken)
	if strings.TrimSpace(c.Transcription.CacheDir) == "" {
		c.Transcription.CacheDir = defaultTranscriptionCacheDir
	}
	var err error
	if c.Transcription.CacheDir, err = expandPath(c.Transcription.CacheDir); err != nil {
		return fmt.Errorf("transcription.cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	envString("GEASS_NTFY_TOPIC", &c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// envInt overrides target when the variable is set to a non-empty value.
// envString trims target and replaces it with the named variable when that
// is set to a non-empty value.
func envString(name string, target *string) {
	*target = strings.TrimSpace(*target)
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*target = value
	}
}

func envInt(name string, target *int) error {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, value)
	}
	*target = parsed
	return nil
}
