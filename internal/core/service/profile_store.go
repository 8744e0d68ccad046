package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/resilience"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
	"github.com/yndnr/sessionguard/pkg/cmap"
)

// Default profile store values.
const (
	DefaultProfileTTL      = 5 * time.Minute
	DefaultUpdateAttempts  = 3
	DefaultStaleRetention  = 24 * time.Hour
	DefaultJanitorInterval = time.Minute
)

// ProfileStoreConfig configures ProfileService.
type ProfileStoreConfig struct {
	// TTL is how long a fetched profile is served without a remote read.
	TTL time.Duration
	// CallTimeout bounds each call to the document store.
	CallTimeout time.Duration
	// UpdateAttempts bounds read-modify-write cycles on version conflicts.
	UpdateAttempts int
	// StaleRetention keeps expired entries available to Cached.
	StaleRetention time.Duration
	// JanitorInterval is how often long-stale entries are evicted.
	// Zero disables the janitor.
	JanitorInterval time.Duration
	// Retry is the policy for document store calls.
	Retry resilience.Policy
}

// DefaultProfileStoreConfig returns the default configuration.
func DefaultProfileStoreConfig() ProfileStoreConfig {
	return ProfileStoreConfig{
		TTL:             DefaultProfileTTL,
		CallTimeout:     DefaultCallTimeout,
		UpdateAttempts:  DefaultUpdateAttempts,
		StaleRetention:  DefaultStaleRetention,
		JanitorInterval: DefaultJanitorInterval,
		Retry:           resilience.DefaultPolicy("profiles"),
	}
}

// cacheEntry is an immutable cache slot. A nil profile marks a key that was
// invalidated; the slot only carries its generation then.
type cacheEntry struct {
	profile   *domain.UserProfile
	expiresAt time.Time
	gen       uint64
	touchedAt time.Time
}

// ProfileService is the cached, single-flight view over a
// ProfileDocumentStore.
//
// Reads of a fresh entry never leave the process. Concurrent misses for one
// key share a single remote read that runs detached from any caller, so a
// caller that gives up does not cancel the read for the others.
//
// Writes stamp the key with a new generation. A read that started before
// the write completes cannot repopulate the cache afterwards.
type ProfileService struct {
	store   ProfileDocumentStore
	retrier resilience.Retrier
	breaker *resilience.Breaker
	cfg     ProfileStoreConfig
	now     func() time.Time
	logger  logger.Logger
	metrics *metric.Registry

	cache *cmap.Map[cacheEntry]
	group singleflight.Group
	epoch atomic.Uint64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// ProfileOption configures a ProfileService.
type ProfileOption func(*ProfileService)

// WithProfileClock sets the time source used for TTL checks.
func WithProfileClock(now func() time.Time) ProfileOption {
	return func(s *ProfileService) { s.now = now }
}

// WithProfileLogger sets the logger.
func WithProfileLogger(l logger.Logger) ProfileOption {
	return func(s *ProfileService) { s.logger = l }
}

// WithProfileMetrics sets the metrics registry.
func WithProfileMetrics(m *metric.Registry) ProfileOption {
	return func(s *ProfileService) { s.metrics = m }
}

// WithProfileBreaker guards the document store with a circuit breaker.
func WithProfileBreaker(b *resilience.Breaker) ProfileOption {
	return func(s *ProfileService) { s.breaker = b }
}

// NewProfileStore creates a ProfileService and starts its janitor.
func NewProfileStore(store ProfileDocumentStore, retrier resilience.Retrier, cfg ProfileStoreConfig, opts ...ProfileOption) *ProfileService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultProfileTTL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.UpdateAttempts <= 0 {
		cfg.UpdateAttempts = DefaultUpdateAttempts
	}
	if cfg.StaleRetention < 0 {
		cfg.StaleRetention = 0
	}

	s := &ProfileService{
		store:   store,
		retrier: retrier,
		cfg:     cfg,
		now:     time.Now,
		cache:   cmap.New[cacheEntry](),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger).With("component", "profile_store")

	if cfg.JanitorInterval > 0 {
		go s.janitorLoop(cfg.JanitorInterval)
	} else {
		close(s.doneCh)
	}
	return s
}

// ============================================================================
// Get
// ============================================================================

// Get returns the profile for subjectID, from cache when fresh.
func (s *ProfileService) Get(ctx context.Context, subjectID string) (*domain.UserProfile, error) {
	if err := domain.ValidateSubjectID(subjectID); err != nil {
		return nil, err
	}

	if p, ok := s.fresh(subjectID); ok {
		s.metrics.ObserveCache("hit")
		return p.Clone(), nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(subjectID, func() (any, error) {
		return s.fetch(detached, subjectID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.metrics.ObserveCache("shared")
		} else {
			s.metrics.ObserveCache("miss")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.UserProfile).Clone(), nil
	}
}

// fresh returns the cached profile if it has not expired.
func (s *ProfileService) fresh(subjectID string) (*domain.UserProfile, bool) {
	e, ok := s.cache.Get(subjectID)
	if !ok || e.profile == nil || !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.profile, true
}

// fetch is the body of a single flight. Its result is shared by every
// joined caller and never mutated afterwards.
func (s *ProfileService) fetch(ctx context.Context, subjectID string) (*domain.UserProfile, error) {
	// A flight that finished just before this one started may have filled the cache.
	if p, ok := s.fresh(subjectID); ok {
		return p, nil
	}

	startEpoch := s.epoch.Load()
	p, err := s.read(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.LastFetchedAt = now
	s.cache.Compute(subjectID, func(cur cacheEntry, exists bool) (cacheEntry, cmap.Op) {
		if exists && cur.gen > startEpoch {
			return cur, cmap.Keep
		}
		return cacheEntry{
			profile:   p,
			expiresAt: now.Add(s.cfg.TTL),
			gen:       cur.gen,
			touchedAt: now,
		}, cmap.Store
	})
	return p, nil
}

// ============================================================================
// Create
// ============================================================================

// Create returns the existing profile for subjectID, or writes and returns
// a default one built from seed. Concurrent creators all observe the same
// stored record.
func (s *ProfileService) Create(ctx context.Context, subjectID string, seed map[string]any) (*domain.UserProfile, error) {
	if err := domain.ValidateSubjectID(subjectID); err != nil {
		return nil, err
	}

	// 1. Existing record wins
	existing, err := s.read(ctx, subjectID)
	if err == nil {
		s.install(subjectID, existing)
		return existing.Clone(), nil
	}
	if domain.KindOf(err) != domain.KindNotFound {
		return nil, err
	}

	// 2. Write the default record
	p := domain.NewDefaultProfile(subjectID, seed, s.now())
	if err := p.Validate(); err != nil {
		return nil, err
	}
	err = s.remote(ctx, "profiles.create", func(ctx context.Context) error {
		return s.store.Create(ctx, p)
	})
	switch {
	case err == nil:
		s.logger.Info("profile created", "subject_id", subjectID)
		s.install(subjectID, p)
		return p.Clone(), nil

	case domain.KindOf(err) == domain.KindAlreadyExists:
		// 3. Lost the race; read the winner
		winner, rerr := s.read(ctx, subjectID)
		if rerr != nil {
			return nil, rerr
		}
		s.install(subjectID, winner)
		return winner.Clone(), nil

	default:
		return nil, err
	}
}

// ============================================================================
// Update
// ============================================================================

// Update applies patch with an optimistic read-modify-write. Version
// conflicts are retried up to UpdateAttempts times with a fresh read each
// time, so each patch is applied exactly once on top of the latest record.
func (s *ProfileService) Update(ctx context.Context, subjectID string, patch domain.ProfilePatch) (*domain.UserProfile, error) {
	if err := domain.ValidateSubjectID(subjectID); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.UpdateAttempts; attempt++ {
		cur, err := s.read(ctx, subjectID)
		if err != nil {
			return nil, err
		}

		next := cur.Apply(patch, s.now())
		if err := next.Validate(); err != nil {
			return nil, err
		}

		err = s.remote(ctx, "profiles.write", func(ctx context.Context) error {
			return s.store.WriteIfVersion(ctx, next, cur.Version)
		})
		if err == nil {
			s.install(subjectID, next)
			return next.Clone(), nil
		}
		if domain.KindOf(err) != domain.KindVersionConflict {
			return nil, err
		}

		lastErr = err
		s.logger.Debug("profile update conflict",
			"subject_id", subjectID,
			"attempt", attempt,
			"expected_version", cur.Version,
		)
	}

	return nil, domain.ErrVersionConflict.
		WithDetails(fmt.Sprintf("gave up after %d attempts", s.cfg.UpdateAttempts)).
		WithCause(lastErr)
}

// ============================================================================
// Cache access
// ============================================================================

// Cached returns the last known profile for subjectID without a remote
// call. Entries past their TTL are returned until StaleRetention elapses.
func (s *ProfileService) Cached(subjectID string) (*domain.UserProfile, bool) {
	e, ok := s.cache.Get(subjectID)
	if !ok || e.profile == nil {
		return nil, false
	}
	now := s.now()
	if !now.Before(e.expiresAt.Add(s.cfg.StaleRetention)) {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		s.metrics.ObserveCache("stale")
	}
	return e.profile.Clone(), true
}

// Invalidate drops the cached profile for subjectID. A read already in
// flight will not repopulate it.
func (s *ProfileService) Invalidate(subjectID string) {
	gen := s.epoch.Add(1)
	now := s.now()
	s.cache.Set(subjectID, cacheEntry{gen: gen, touchedAt: now})
	s.group.Forget(subjectID)
}

// Len returns the number of cached profiles, fresh or stale.
func (s *ProfileService) Len() int {
	n := 0
	s.cache.Range(func(_ string, e cacheEntry) bool {
		if e.profile != nil {
			n++
		}
		return true
	})
	return n
}

// install caches a record that was just read or written under a new
// generation and detaches any in-flight read for the key.
func (s *ProfileService) install(subjectID string, p *domain.UserProfile) {
	gen := s.epoch.Add(1)
	now := s.now()
	p.LastFetchedAt = now
	s.cache.Set(subjectID, cacheEntry{
		profile:   p,
		expiresAt: now.Add(s.cfg.TTL),
		gen:       gen,
		touchedAt: now,
	})
	s.group.Forget(subjectID)
}

// ============================================================================
// Remote calls
// ============================================================================

func (s *ProfileService) read(ctx context.Context, subjectID string) (*domain.UserProfile, error) {
	var p *domain.UserProfile
	err := s.remote(ctx, "profiles.read", func(ctx context.Context) error {
		var err error
		p, err = s.store.Read(ctx, subjectID)
		if err == nil && p == nil {
			err = domain.ErrProfileNotFound.WithDetails(subjectID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// remote runs one document store operation under the optional breaker and
// the retry policy. Every attempt is bounded by CallTimeout.
func (s *ProfileService) remote(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var done func(resilience.Outcome)
	if s.breaker != nil {
		d, err := s.breaker.Allow()
		if err != nil {
			return err
		}
		done = d
	}

	policy := s.cfg.Retry
	policy.Name = op
	err := s.retrier.Do(ctx, policy, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()

		err := fn(actx)
		if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.ErrProfileStoreUnavailable.WithDetails(op + " timed out").WithCause(err)
		}
		s.metrics.ObserveRemote("profiles", remoteOutcome(err))
		return err
	})

	if done != nil {
		switch domain.KindOf(err) {
		case domain.KindNone, domain.KindNotFound, domain.KindAlreadyExists, domain.KindVersionConflict:
			done(resilience.Success)
		default:
			if ctx.Err() != nil {
				done(resilience.Ignored)
			} else {
				done(resilience.Failure)
			}
		}
	}
	return err
}

// ============================================================================
// Lifecycle
// ============================================================================

func (s *ProfileService) janitorLoop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.evictStale(); n > 0 {
				s.logger.Debug("evicted stale profiles", "count", n)
			}
		}
	}
}

// evictStale removes entries past TTL plus StaleRetention, and
// invalidation markers older than StaleRetention.
func (s *ProfileService) evictStale() int {
	now := s.now()
	return s.cache.DeleteIf(func(_ string, e cacheEntry) bool {
		if e.profile == nil {
			return !now.Before(e.touchedAt.Add(s.cfg.StaleRetention + s.cfg.TTL))
		}
		return !now.Before(e.expiresAt.Add(s.cfg.StaleRetention))
	})
}

// Close stops the janitor. The cache stays readable.
func (s *ProfileService) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	return nil
}
