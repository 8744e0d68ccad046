package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

// Default retry policy values.
const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 100 * time.Millisecond
	DefaultMaxDelay     = 2 * time.Second
	DefaultJitterFactor = 0.2
)

// Policy controls how an operation is retried.
type Policy struct {
	// Name labels log lines and metrics.
	Name string
	// MaxAttempts includes the first call. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps every delay, jitter included.
	MaxDelay time.Duration
	// JitterFactor spreads each delay uniformly by +/- this fraction.
	JitterFactor float64
	// IsRetryable decides whether a failure of the given kind is retried.
	IsRetryable func(domain.ErrorKind) bool
}

// TransientOnly retries transient failures and nothing else.
func TransientOnly(kind domain.ErrorKind) bool {
	return kind == domain.KindTransient
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:         name,
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  TransientOnly,
	}
}

// Validate reports configuration values that cannot be normalized.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return domain.ErrInvalidArgument.WithDetails("retry max_attempts must not be negative")
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return domain.ErrInvalidArgument.WithDetails("retry delays must not be negative")
	case p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay:
		return domain.ErrInvalidArgument.WithDetails("retry base_delay exceeds max_delay")
	case p.JitterFactor < 0 || p.JitterFactor > 1:
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("retry jitter_factor %.2f out of range [0,1]", p.JitterFactor))
	}
	return nil
}

// normalized fills zero values with defaults.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.BaseDelay > p.MaxDelay {
		p.BaseDelay = p.MaxDelay
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
	if p.IsRetryable == nil {
		p.IsRetryable = TransientOnly
	}
	if p.Name == "" {
		p.Name = "operation"
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based),
// before jitter: min(MaxDelay, BaseDelay * 2^(attempt-1)).
func Backoff(p Policy, attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if d >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// Retrier runs an operation under a retry policy.
type Retrier interface {
	Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error
}

// Coordinator is the default Retrier.
type Coordinator struct {
	logger  logger.Logger
	metrics *metric.Registry
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	rand *rand.Rand
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRand sets the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rand = r }
}

// WithSleep replaces the wait between attempts. The function must return
// ctx.Err() when ctx ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// NewCoordinator creates a retry coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		sleep: sleepContext,
		rand:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5e55)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrDefault(c.logger)
	return c
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's attempts are used up. The last error is returned unchanged.
// If ctx ends during a wait, Do returns the last error joined with ctx.Err().
func (c *Coordinator) Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			c.metrics.ObserveAttempt(p.Name, "success")
			return nil
		}
		lastErr = err

		kind := domain.KindOf(err)
		if !p.IsRetryable(kind) {
			c.metrics.ObserveAttempt(p.Name, "terminal")
			return err
		}
		if attempt >= p.MaxAttempts {
			c.metrics.ObserveAttempt(p.Name, "exhausted")
			c.logger.Warn("retry attempts exhausted",
				"operation", p.Name,
				"attempts", attempt,
				"kind", kind.String(),
				"error", err.Error(),
			)
			return err
		}
		c.metrics.ObserveAttempt(p.Name, "retry")

		delay := c.Delay(p, attempt)
		c.logger.Debug("retrying after failure",
			"operation", p.Name,
			"attempt", attempt,
			"delay", delay.String(),
			"kind", kind.String(),
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			c.metrics.ObserveAttempt(p.Name, "abandoned")
			return errors.Join(lastErr, serr)
		}
	}
}

// Delay returns the jittered delay after the given failed attempt.
func (c *Coordinator) Delay(p Policy, attempt int) time.Duration {
	p = p.normalized()
	base := Backoff(p, attempt)
	if p.JitterFactor == 0 {
		return base
	}

	c.mu.Lock()
	r := c.rand.Float64()
	c.mu.Unlock()

	// r in [0,1) maps to a factor in [-J, +J).
	spread := (r*2 - 1) * p.JitterFactor
	d := time.Duration(float64(base) * (1 + spread))
	if d < 0 {
		return 0
	}
	return min(d, p.MaxDelay)
}

// Execute runs op through r and returns its value.
func Execute[T any](ctx context.Context, r Retrier, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
