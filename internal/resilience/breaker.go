package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome reports how an admitted call ended.
type Outcome int

const (
	// Success resets the failure count and closes the breaker.
	Success Outcome = iota
	// Failure counts toward opening the breaker.
	Failure
	// Ignored releases a probe slot without changing counts, e.g. when the
	// caller gave up before the dependency answered.
	Ignored
)

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	LastStateChangeAt   time.Time `json:"last_state_change_at,omitempty"`
}

// Default breaker values.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Name labels log lines and metrics, e.g. "identity".
	Name string
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default configuration for name.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:      name,
		Threshold: DefaultThreshold,
		Cooldown:  DefaultCooldown,
	}
}

// Breaker short-circuits calls to a dependency after repeated failures.
//
// Calls are admitted with Allow and must report their outcome through the
// returned done func exactly once. Outcomes from a previous state
// generation are discarded, so a slow call that started while Closed cannot
// close a breaker that has since opened and started a new probe.
type Breaker struct {
	cfg     BreakerConfig
	now     func() time.Time
	logger  logger.Logger
	metrics *metric.Registry

	mu         sync.Mutex
	stats      Stats
	generation uint64
	probing    bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock sets the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithBreakerLogger sets the logger.
func WithBreakerLogger(l logger.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = l }
}

// WithBreakerMetrics sets the metrics registry.
func WithBreakerMetrics(m *metric.Registry) BreakerOption {
	return func(b *Breaker) { b.metrics = m }
}

// NewBreaker creates a closed breaker. Zero config values take defaults.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Name == "" {
		cfg.Name = "dependency"
	}
	b := &Breaker{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logger.OrDefault(b.logger).With("breaker", cfg.Name)
	b.stats.LastStateChangeAt = b.now()
	b.metrics.SetBreakerState(cfg.Name, int(StateClosed), StateClosed.String())
	return b
}

// Allow asks to make one call. On admission it returns a done func that
// must be called with the outcome. When the call is refused the error is
// domain.ErrCircuitOpen.
func (b *Breaker) Allow() (done func(Outcome), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stats.State {
	case StateOpen:
		remaining := b.cfg.Cooldown - b.now().Sub(b.stats.LastStateChangeAt)
		if remaining > 0 {
			return nil, domain.ErrCircuitOpen.WithDetails(
				fmt.Sprintf("%s: retry in %s", b.cfg.Name, remaining.Round(time.Millisecond)))
		}
		b.setStateLocked(StateHalfOpen)
		b.probing = true
		return b.doneFunc(b.generation), nil

	case StateHalfOpen:
		if b.probing {
			return nil, domain.ErrCircuitOpen.WithDetails(b.cfg.Name + ": probe in flight")
		}
		b.probing = true
		return b.doneFunc(b.generation), nil

	default:
		return b.doneFunc(b.generation), nil
	}
}

func (b *Breaker) doneFunc(gen uint64) func(Outcome) {
	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { b.record(gen, o) })
	}
}

func (b *Breaker) record(gen uint64, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}

	switch o {
	case Success:
		b.stats.ConsecutiveFailures = 0
		b.probing = false
		if b.stats.State != StateClosed {
			b.setStateLocked(StateClosed)
		}

	case Failure:
		b.stats.ConsecutiveFailures++
		b.stats.LastFailureAt = b.now()
		switch b.stats.State {
		case StateHalfOpen:
			b.probing = false
			b.setStateLocked(StateOpen)
		case StateClosed:
			if b.stats.ConsecutiveFailures >= b.cfg.Threshold {
				b.setStateLocked(StateOpen)
			}
		}

	case Ignored:
		if b.stats.State == StateHalfOpen {
			b.probing = false
		}
	}
}

// setStateLocked moves to s, restamps LastStateChangeAt and bumps the
// generation. Caller holds b.mu.
func (b *Breaker) setStateLocked(s State) {
	from := b.stats.State
	b.stats.State = s
	b.stats.LastStateChangeAt = b.now()
	b.generation++

	b.metrics.SetBreakerState(b.cfg.Name, int(s), s.String())
	if s == StateOpen {
		b.logger.Warn("circuit breaker opened",
			"from", from.String(),
			"consecutive_failures", b.stats.ConsecutiveFailures,
			"cooldown", b.cfg.Cooldown.String(),
		)
		return
	}
	b.logger.Info("circuit breaker state changed",
		"from", from.String(),
		"to", s.String(),
	)
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// State returns the current state without advancing it. An Open breaker
// whose cooldown has elapsed reports Open until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats.State
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.ConsecutiveFailures = 0
	b.probing = false
	if b.stats.State != StateClosed {
		b.setStateLocked(StateClosed)
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}
