package config

import "time"

// Default configuration values.
const (
	DefaultIdentityTimeout = 10 * time.Second
	DefaultRateLimit       = 50.0
	DefaultBurst           = 10

	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second

	DefaultRetryMaxAttempts  = 3
	DefaultRetryBaseDelay    = 100 * time.Millisecond
	DefaultRetryMaxDelay     = 2 * time.Second
	DefaultRetryJitterFactor = 0.2

	DefaultProfileTTL             = 5 * time.Minute
	DefaultProfileCallTimeout     = 10 * time.Second
	DefaultProfileUpdateAttempts  = 3
	DefaultProfileStaleRetention  = 24 * time.Hour
	DefaultProfileJanitorInterval = time.Minute

	DefaultDataDir          = "./data"
	DefaultSubscriberBuffer = 16

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Identity: IdentitySection{
			Timeout:   DefaultIdentityTimeout,
			RateLimit: DefaultRateLimit,
			Burst:     DefaultBurst,
		},
		Breaker: BreakerSection{
			Threshold: DefaultBreakerThreshold,
			Cooldown:  DefaultBreakerCooldown,
		},
		Retry: RetrySection{
			MaxAttempts:  DefaultRetryMaxAttempts,
			BaseDelay:    DefaultRetryBaseDelay,
			MaxDelay:     DefaultRetryMaxDelay,
			JitterFactor: DefaultRetryJitterFactor,
		},
		Profiles: ProfilesSection{
			TTL:             DefaultProfileTTL,
			CallTimeout:     DefaultProfileCallTimeout,
			UpdateAttempts:  DefaultProfileUpdateAttempts,
			StaleRetention:  DefaultProfileStaleRetention,
			JanitorInterval: DefaultProfileJanitorInterval,
		},
		Storage: StorageSection{
			Engine:  EngineMemory,
			DataDir: DefaultDataDir,
		},
		Notify: NotifySection{
			SubscriberBuffer: DefaultSubscriberBuffer,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
