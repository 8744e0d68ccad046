package service

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/resilience"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

// DefaultCallTimeout bounds every single remote call.
const DefaultCallTimeout = 10 * time.Second

// TokenValidatorConfig configures TokenValidatorService.
type TokenValidatorConfig struct {
	// AttemptTimeout bounds each call to the identity authority.
	AttemptTimeout time.Duration

	// Retry is the policy for remote checks. IsRetryable is derived from
	// RetryPermissionDenied when nil.
	Retry resilience.Policy

	// RetryPermissionDenied treats permission-denied answers as transient.
	// Some authorities return 403 while a grant is still propagating.
	RetryPermissionDenied bool
}

// DefaultTokenValidatorConfig returns the default configuration.
func DefaultTokenValidatorConfig() TokenValidatorConfig {
	return TokenValidatorConfig{
		AttemptTimeout: DefaultCallTimeout,
		Retry:          resilience.DefaultPolicy("identity.verify"),
	}
}

// TokenValidatorService validates credentials against an IdentityAuthority.
//
// Each Validate call is admitted by the circuit breaker first. An open
// breaker fails fast with domain.ErrCircuitOpen and no remote call. Admitted
// calls run through the retry coordinator and report exactly one outcome to
// the breaker.
type TokenValidatorService struct {
	authority IdentityAuthority
	retrier   resilience.Retrier
	breaker   *resilience.Breaker
	cfg       TokenValidatorConfig
	now       func() time.Time
	logger    logger.Logger
	metrics   *metric.Registry
}

// ValidatorOption configures a TokenValidatorService.
type ValidatorOption func(*TokenValidatorService)

// WithValidatorClock sets the time source used for result timestamps.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(s *TokenValidatorService) { s.now = now }
}

// WithValidatorLogger sets the logger.
func WithValidatorLogger(l logger.Logger) ValidatorOption {
	return func(s *TokenValidatorService) { s.logger = l }
}

// WithValidatorMetrics sets the metrics registry.
func WithValidatorMetrics(m *metric.Registry) ValidatorOption {
	return func(s *TokenValidatorService) { s.metrics = m }
}

// NewTokenValidator creates a TokenValidatorService. A nil breaker gets a
// default one named "identity".
func NewTokenValidator(authority IdentityAuthority, retrier resilience.Retrier, breaker *resilience.Breaker, cfg TokenValidatorConfig, opts ...ValidatorOption) *TokenValidatorService {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultCallTimeout
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "identity.verify"
	}
	if cfg.Retry.IsRetryable == nil {
		retryDenied := cfg.RetryPermissionDenied
		cfg.Retry.IsRetryable = func(k domain.ErrorKind) bool {
			return k == domain.KindTransient || (retryDenied && k == domain.KindPermissionDenied)
		}
	}

	s := &TokenValidatorService{
		authority: authority,
		retrier:   retrier,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger)
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("identity"),
			resilience.WithBreakerLogger(s.logger), resilience.WithBreakerMetrics(s.metrics))
	}
	s.breaker = breaker
	return s
}

// Validate checks credential with the identity authority.
func (s *TokenValidatorService) Validate(ctx context.Context, credential domain.Credential) (*domain.ValidationResult, error) {
	log := logger.L(ctx).With("credential_fp", credential.Fingerprint())

	// 1. Reject empty credentials locally
	if credential.IsEmpty() {
		return domain.NewFailedResult(domain.KindInvalidCredential, s.now()), nil
	}

	// 2. Ask the breaker for admission
	done, err := s.breaker.Allow()
	if err != nil {
		log.Debug("credential check short-circuited", "error", err.Error())
		return nil, err
	}

	// 3. Remote check through the retry coordinator
	id, err := resilience.Execute(ctx, s.retrier, s.cfg.Retry, func(ctx context.Context) (*domain.Identity, error) {
		return s.verifyOnce(ctx, credential)
	})

	// 4. One outcome per call
	switch kind := domain.KindOf(err); {
	case err == nil:
		done(resilience.Success)
		return domain.NewValidResult(id, s.now()), nil

	case kind.IsCredentialFailure():
		done(resilience.Success)
		log.Info("credential rejected", "kind", kind.String())
		return domain.NewFailedResult(kind, s.now()), nil

	case ctx.Err() != nil:
		done(resilience.Ignored)
		return nil, err

	default:
		done(resilience.Failure)
		log.Warn("credential check failed",
			"kind", kind.String(),
			"error", err.Error(),
		)
		return nil, err
	}
}

// verifyOnce makes one bounded call to the authority. An attempt deadline
// is reported as a transient timeout.
func (s *TokenValidatorService) verifyOnce(ctx context.Context, credential domain.Credential) (*domain.Identity, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	id, err := s.authority.VerifyCredential(actx, credential)
	switch {
	case err == nil && id == nil:
		err = domain.ErrInternal.WithDetails("identity authority returned no identity")
	case err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		err = domain.ErrIdentityTimeout.WithCause(err)
	}

	s.metrics.ObserveRemote("identity", remoteOutcome(err))
	if err != nil {
		return nil, err
	}
	return id, nil
}

// Stats returns the breaker snapshot.
func (s *TokenValidatorService) Stats() resilience.Stats {
	return s.breaker.Stats()
}

// Breaker returns the breaker guarding the authority.
func (s *TokenValidatorService) Breaker() *resilience.Breaker {
	return s.breaker
}

func remoteOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}
