package container

import (
	"fmt"

	"github.com/yndnr/sessionguard/internal/config"
	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/core/service"
	"github.com/yndnr/sessionguard/internal/identity"
	"github.com/yndnr/sessionguard/internal/resilience"
	"github.com/yndnr/sessionguard/internal/storage"
	"github.com/yndnr/sessionguard/internal/storage/memory"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
	"github.com/yndnr/sessionguard/pkg/crypto/seal"
)

type bootstrapOptions struct {
	log     logger.Logger
	metrics *metric.Registry
}

// Option configures Bootstrap.
type Option func(*bootstrapOptions)

// WithLogger registers l under ILogger instead of logger.Default().
func WithLogger(l logger.Logger) Option {
	return func(o *bootstrapOptions) { o.log = l }
}

// WithMetrics registers r under IMetrics instead of a fresh registry.
func WithMetrics(r *metric.Registry) Option {
	return func(o *bootstrapOptions) { o.metrics = r }
}

// Bootstrap returns a container with the production wiring for cfg.
// Nothing is built until the first Resolve.
func Bootstrap(cfg *config.Config, opts ...Option) (*Container, error) {
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o bootstrapOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := New()

	c.Register(ILogger, func(Resolver) (any, error) {
		return logger.OrDefault(o.log), nil
	})

	c.Register(IMetrics, func(Resolver) (any, error) {
		if o.metrics != nil {
			return o.metrics, nil
		}
		return metric.NewRegistry(), nil
	})

	c.Register(IIdentityAuthority, func(r Resolver) (any, error) {
		log, err := ResolveAs[logger.Logger](r, ILogger)
		if err != nil {
			return nil, err
		}
		if cfg.Identity.Endpoint == "" {
			return newStaticAuthority(cfg.Identity.Static)
		}
		return identity.NewHTTPAuthority(identity.HTTPConfig{
			Endpoint:     cfg.Identity.Endpoint,
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			Timeout:      cfg.Identity.Timeout,
			RateLimit:    cfg.Identity.RateLimit,
			Burst:        cfg.Identity.Burst,
			TLSCAFile:    cfg.Identity.TLSCAFile,
		}, identity.WithHTTPLogger(log))
	})

	c.Register(IProfileDocumentStore, func(r Resolver) (any, error) {
		if cfg.Storage.Engine != config.EngineBadger {
			return memory.NewProfileStore(), nil
		}
		log, err := ResolveAs[logger.Logger](r, ILogger)
		if err != nil {
			return nil, err
		}
		metrics, err := ResolveAs[*metric.Registry](r, IMetrics)
		if err != nil {
			return nil, err
		}

		bcfg := storage.DefaultBadgerConfig(cfg.Storage.DataDir)
		if cfg.Storage.EncryptionKey != "" {
			key, err := seal.ParseKey(cfg.Storage.EncryptionKey)
			if err != nil {
				return nil, domain.ErrInvalidArgument.WithDetails("storage.encryption_key").WithCause(err)
			}
			bcfg.EncryptionKey = key
		}
		store, err := storage.OpenBadger(bcfg, storage.WithBadgerLogger(log))
		if err != nil {
			return nil, err
		}
		if err := store.RegisterMetrics(metrics); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	})

	c.Register(IRetryCoordinator, func(r Resolver) (any, error) {
		log, err := ResolveAs[logger.Logger](r, ILogger)
		if err != nil {
			return nil, err
		}
		metrics, err := ResolveAs[*metric.Registry](r, IMetrics)
		if err != nil {
			return nil, err
		}
		return resilience.NewCoordinator(resilience.WithLogger(log), resilience.WithMetrics(metrics)), nil
	})

	c.Register(ITokenValidator, func(r Resolver) (any, error) {
		deps, err := resolveCommon(r)
		if err != nil {
			return nil, err
		}
		authority, err := ResolveAs[service.IdentityAuthority](r, IIdentityAuthority)
		if err != nil {
			return nil, err
		}
		breaker := resilience.NewBreaker(resilience.BreakerConfig{
			Name:      "identity",
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  cfg.Breaker.Cooldown,
		}, resilience.WithBreakerLogger(deps.log), resilience.WithBreakerMetrics(deps.metrics))

		return service.NewTokenValidator(authority, deps.retrier, breaker, service.TokenValidatorConfig{
			AttemptTimeout:        cfg.Identity.Timeout,
			Retry:                 retryPolicy(cfg.Retry, "identity.verify"),
			RetryPermissionDenied: cfg.Retry.RetryPermissionDenied,
		}, service.WithValidatorLogger(deps.log), service.WithValidatorMetrics(deps.metrics)), nil
	})

	c.Register(IProfileStore, func(r Resolver) (any, error) {
		deps, err := resolveCommon(r)
		if err != nil {
			return nil, err
		}
		docs, err := ResolveAs[service.ProfileDocumentStore](r, IProfileDocumentStore)
		if err != nil {
			return nil, err
		}

		opts := []service.ProfileOption{
			service.WithProfileLogger(deps.log),
			service.WithProfileMetrics(deps.metrics),
		}
		if cfg.Profiles.BreakerEnabled {
			opts = append(opts, service.WithProfileBreaker(resilience.NewBreaker(resilience.BreakerConfig{
				Name:      "profiles",
				Threshold: cfg.Breaker.Threshold,
				Cooldown:  cfg.Breaker.Cooldown,
			}, resilience.WithBreakerLogger(deps.log), resilience.WithBreakerMetrics(deps.metrics))))
		}

		profiles := service.NewProfileStore(docs, deps.retrier, service.ProfileStoreConfig{
			TTL:             cfg.Profiles.TTL,
			CallTimeout:     cfg.Profiles.CallTimeout,
			UpdateAttempts:  cfg.Profiles.UpdateAttempts,
			StaleRetention:  cfg.Profiles.StaleRetention,
			JanitorInterval: cfg.Profiles.JanitorInterval,
			Retry:           retryPolicy(cfg.Retry, "profiles"),
		}, opts...)

		if deps.metrics != nil {
			collector := metric.NewCollector().
				Add("profile_cache_entries", "Profiles held in the cache, stale entries included.", func() float64 {
					return float64(profiles.Len())
				})
			if err := deps.metrics.Prometheus().Register(collector); err != nil {
				profiles.Close()
				return nil, err
			}
		}
		return profiles, nil
	})

	c.Register(IAuthStateManager, func(r Resolver) (any, error) {
		deps, err := resolveCommon(r)
		if err != nil {
			return nil, err
		}
		validator, err := ResolveAs[service.TokenValidator](r, ITokenValidator)
		if err != nil {
			return nil, err
		}
		profiles, err := ResolveAs[service.ProfileStore](r, IProfileStore)
		if err != nil {
			return nil, err
		}
		return service.NewSessionManager(validator, profiles, service.SessionManagerConfig{
			SubscriberBuffer: cfg.Notify.SubscriberBuffer,
		}, service.WithManagerLogger(deps.log), service.WithManagerMetrics(deps.metrics)), nil
	})

	return c, nil
}

type commonDeps struct {
	log     logger.Logger
	metrics *metric.Registry
	retrier resilience.Retrier
}

func resolveCommon(r Resolver) (commonDeps, error) {
	var d commonDeps
	var err error
	if d.log, err = ResolveAs[logger.Logger](r, ILogger); err != nil {
		return d, err
	}
	if d.metrics, err = ResolveAs[*metric.Registry](r, IMetrics); err != nil {
		return d, err
	}
	if d.retrier, err = ResolveAs[resilience.Retrier](r, IRetryCoordinator); err != nil {
		return d, err
	}
	return d, nil
}

func retryPolicy(cfg config.RetrySection, name string) resilience.Policy {
	return resilience.Policy{
		Name:         name,
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		JitterFactor: cfg.JitterFactor,
	}
}

func newStaticAuthority(static []config.StaticCredential) (*identity.MemoryAuthority, error) {
	a := identity.NewMemoryAuthority()
	for _, s := range static {
		if err := a.Add(domain.Credential(s.Credential), s.Subject, s.Claims); err != nil {
			return nil, err
		}
	}
	return a, nil
}
