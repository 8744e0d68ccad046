package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Verify validates the configuration and reports every problem found.
func Verify(cfg *Config) error {
	return errors.Join(
		verifyIdentity(&cfg.Identity),
		verifyBreaker(&cfg.Breaker),
		verifyRetry(&cfg.Retry),
		verifyProfiles(&cfg.Profiles),
		verifyStorage(&cfg.Storage),
		verifyLog(&cfg.Log),
		verifyNotify(&cfg.Notify),
		verifyMetrics(&cfg.Metrics),
	)
}

func verifyIdentity(cfg *IdentitySection) error {
	var errs []error
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("identity.endpoint %q must be an http(s) URL", cfg.Endpoint))
		}
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, errors.New("identity.timeout must be positive"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, errors.New("identity.rate_limit must not be negative"))
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		errs = append(errs, errors.New("identity.burst must be at least 1 when rate_limit is set"))
	}
	if cfg.TLSCAFile != "" {
		if _, err := os.Stat(cfg.TLSCAFile); err != nil {
			errs = append(errs, fmt.Errorf("identity.tls_ca_file: %w", err))
		}
	}
	for i, s := range cfg.Static {
		if s.Credential == "" || s.Subject == "" {
			errs = append(errs, fmt.Errorf("identity.static[%d]: credential and subject are required", i))
		}
	}
	return errors.Join(errs...)
}

func verifyBreaker(cfg *BreakerSection) error {
	var errs []error
	if cfg.Threshold < 1 {
		errs = append(errs, errors.New("breaker.threshold must be at least 1"))
	}
	if cfg.Cooldown <= 0 {
		errs = append(errs, errors.New("breaker.cooldown must be positive"))
	}
	return errors.Join(errs...)
}

func verifyRetry(cfg *RetrySection) error {
	var errs []error
	if cfg.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if cfg.BaseDelay <= 0 || cfg.MaxDelay <= 0 {
		errs = append(errs, errors.New("retry.base_delay and retry.max_delay must be positive"))
	} else if cfg.BaseDelay > cfg.MaxDelay {
		errs = append(errs, errors.New("retry.base_delay must not exceed retry.max_delay"))
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		errs = append(errs, errors.New("retry.jitter_factor must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

func verifyProfiles(cfg *ProfilesSection) error {
	var errs []error
	if cfg.TTL <= 0 {
		errs = append(errs, errors.New("profiles.ttl must be positive"))
	}
	if cfg.CallTimeout <= 0 {
		errs = append(errs, errors.New("profiles.call_timeout must be positive"))
	}
	if cfg.UpdateAttempts < 1 {
		errs = append(errs, errors.New("profiles.update_attempts must be at least 1"))
	}
	if cfg.StaleRetention < 0 {
		errs = append(errs, errors.New("profiles.stale_retention must not be negative"))
	}
	if cfg.JanitorInterval < 0 {
		errs = append(errs, errors.New("profiles.janitor_interval must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case EngineMemory:
		return nil
	case EngineBadger:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("storage.data_dir is required for the badger engine")
		}
		return nil
	default:
		return fmt.Errorf("storage.engine %q must be %q or %q", cfg.Engine, EngineMemory, EngineBadger)
	}
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", cfg.Format))
	}
	return errors.Join(errs...)
}

func verifyNotify(cfg *NotifySection) error {
	if cfg.SubscriberBuffer < 1 {
		return errors.New("notify.subscriber_buffer must be at least 1")
	}
	return nil
}

func verifyMetrics(cfg *MetricsSection) error {
	if cfg.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("metrics.addr %q: %w", cfg.Addr, err)
	}
	return nil
}
