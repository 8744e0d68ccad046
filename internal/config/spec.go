package config

import "time"

// Config is the root configuration.
type Config struct {
	Identity IdentitySection `koanf:"identity"`
	Breaker  BreakerSection  `koanf:"breaker"`
	Retry    RetrySection    `koanf:"retry"`
	Profiles ProfilesSection `koanf:"profiles"`
	Storage  StorageSection  `koanf:"storage"`
	Notify   NotifySection   `koanf:"notify"`
	Log      LogSection      `koanf:"log"`
	Metrics  MetricsSection  `koanf:"metrics"`
}

// IdentitySection configures the identity authority client.
type IdentitySection struct {
	// Endpoint is the token introspection URL. Empty selects the in-memory
	// authority seeded from Static.
	Endpoint     string        `koanf:"endpoint"`
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	Timeout      time.Duration `koanf:"timeout"`

	// RateLimit is the outbound request rate per second. Zero disables it.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	TLSCAFile string `koanf:"tls_ca_file"`

	Static []StaticCredential `koanf:"static"`
}

// StaticCredential is a credential accepted by the in-memory authority.
type StaticCredential struct {
	Credential string         `koanf:"credential"`
	Subject    string         `koanf:"subject"`
	Claims     map[string]any `koanf:"claims"`
}

// BreakerSection configures the identity circuit breaker.
type BreakerSection struct {
	Threshold int           `koanf:"threshold"`
	Cooldown  time.Duration `koanf:"cooldown"`
}

// RetrySection configures the retry policy for remote calls.
type RetrySection struct {
	MaxAttempts           int           `koanf:"max_attempts"`
	BaseDelay             time.Duration `koanf:"base_delay"`
	MaxDelay              time.Duration `koanf:"max_delay"`
	JitterFactor          float64       `koanf:"jitter_factor"`
	RetryPermissionDenied bool          `koanf:"retry_permission_denied"`
}

// ProfilesSection configures the profile cache.
type ProfilesSection struct {
	TTL             time.Duration `koanf:"ttl"`
	CallTimeout     time.Duration `koanf:"call_timeout"`
	UpdateAttempts  int           `koanf:"update_attempts"`
	StaleRetention  time.Duration `koanf:"stale_retention"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
	BreakerEnabled  bool          `koanf:"breaker_enabled"`
}

// Storage engines.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// StorageSection configures the profile document store.
type StorageSection struct {
	Engine  string `koanf:"engine"`
	DataDir string `koanf:"data_dir"`
	// EncryptionKey seals stored records when set. Hex or base64, 32 bytes.
	EncryptionKey string `koanf:"encryption_key"`
}

// NotifySection configures subscriber fan-out.
type NotifySection struct {
	SubscriberBuffer int `koanf:"subscriber_buffer"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `koanf:"addr"`
}
