package config

const (
	defaultConfigPath                  = "~/.config/geass/config.toml"
	defaultDataDir                     = "~/.local/share/geass"
	defaultLogDir                      = "~/.local/share/geass/logs"
	defaultTranscriptionCacheDir       = "~/.cache/geass/whisperx"
	defaultAPIBind                     = "127.0.0.1:8470"
	defaultRateLimit                   = 100
	defaultRateLimitWindowSeconds      = 60
	defaultRedisKeyPrefix              = "geass:ratelimit:"
	defaultMaxJobAgeSeconds            = 5 * 24 * 60 * 60
	defaultSweepIntervalSeconds        = 7 * 24 * 60 * 60
	defaultWorkerConcurrency           = 1
	defaultWorkerPollInterval          = 5
	defaultWorkerHeartbeatInterval     = 15
	defaultWorkerHeartbeatTimeout      = 120
	defaultTranscriptionTimeoutSeconds = 3600
	defaultTranscriptionModel          = "large-v3"
	defaultTranscriptionLanguage       = "en"
	defaultVADMethod                   = "silero"
	defaultUploadMaxBytes              = 512 << 20
	defaultUploadMinFreeMB             = 1024
	defaultNtfyRequestTimeout          = 10
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
	defaultLogRetentionDays            = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		RateLimit: RateLimit{
			Limit:          defaultRateLimit,
			WindowSeconds:  defaultRateLimitWindowSeconds,
			RedisKeyPrefix: defaultRedisKeyPrefix,
		},
		Retention: Retention{
			MaxJobAgeSeconds:     defaultMaxJobAgeSeconds,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Worker: Worker{
			Concurrency:                 defaultWorkerConcurrency,
			PollInterval:                defaultWorkerPollInterval,
			HeartbeatInterval:           defaultWorkerHeartbeatInterval,
			HeartbeatTimeout:            defaultWorkerHeartbeatTimeout,
			TranscriptionTimeoutSeconds: defaultTranscriptionTimeoutSeconds,
		},
		Transcription: Transcription{
			Model:     defaultTranscriptionModel,
			Language:  defaultTranscriptionLanguage,
			VADMethod: defaultVADMethod,
			CacheDir:  defaultTranscriptionCacheDir,
		},
		Upload: Upload{
			MaxBytes:  defaultUploadMaxBytes,
			MinFreeMB: defaultUploadMinFreeMB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Metrics: Metrics{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
