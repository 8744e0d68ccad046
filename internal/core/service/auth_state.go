package service

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
	"github.com/yndnr/sessionguard/pkg/credential"
)

// DefaultSubscriberBuffer is the per-subscriber notification queue size.
const DefaultSubscriberBuffer = 16

type lifecycle int

const (
	lifecycleInit lifecycle = iota
	lifecycleActive
	lifecycleDisposed
)

// SessionManagerConfig configures SessionManager.
type SessionManagerConfig struct {
	// SubscriberBuffer is the queue size per subscriber. A transition that
	// finds the queue full is dropped for that subscriber.
	SubscriberBuffer int
}

// DefaultSessionManagerConfig returns the default configuration.
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{SubscriberBuffer: DefaultSubscriberBuffer}
}

type subscriber struct {
	id       string
	ch       chan domain.AuthState
	done     chan struct{}
	listener Listener
}

func (s *subscriber) run() {
	defer close(s.done)
	for st := range s.ch {
		s.listener(st)
	}
}

// SessionManager combines a TokenValidator and a ProfileStore into the
// session state machine and broadcasts every transition.
//
// ValidateSession calls are serialized. Each call moves the state through
// Validating to exactly one terminal state before it returns.
type SessionManager struct {
	validator TokenValidator
	profiles  ProfileStore
	cfg       SessionManagerConfig
	now       func() time.Time
	logger    logger.Logger
	metrics   *metric.Registry

	// turn serializes state-changing operations. Holding it is the right
	// to move the state machine.
	turn chan struct{}

	// bound is the session the last Authenticated state was issued to.
	// Only a matching credential may fall back to its profile when the
	// authority gives no verdict. Guarded by turn.
	bound sessionBinding

	mu     sync.RWMutex
	state  domain.AuthState
	phase  lifecycle
	subs   map[string]*subscriber
	expiry *time.Timer
}

// sessionBinding ties a credential hash to the subject it authenticated.
type sessionBinding struct {
	credHash  string
	subjectID string
}

func (b sessionBinding) matches(c domain.Credential) bool {
	return b.credHash != "" && credential.Verify(c.Raw(), b.credHash)
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithManagerClock sets the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *SessionManager) { m.logger = l }
}

// WithManagerMetrics sets the metrics registry.
func WithManagerMetrics(r *metric.Registry) ManagerOption {
	return func(m *SessionManager) { m.metrics = r }
}

// NewSessionManager creates an active manager in the Unauthenticated state.
func NewSessionManager(validator TokenValidator, profiles ProfileStore, cfg SessionManagerConfig, opts ...ManagerOption) *SessionManager {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	m := &SessionManager{
		validator: validator,
		profiles:  profiles,
		cfg:       cfg,
		now:       time.Now,
		turn:      make(chan struct{}, 1),
		subs:      make(map[string]*subscriber),
		phase:     lifecycleInit,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrDefault(m.logger).With("component", "session")

	st := domain.Unauthenticated()
	st.ChangedAt = m.now()
	m.state = st
	m.phase = lifecycleActive
	return m
}

// ============================================================================
// Validation
// ============================================================================

// ValidateSession validates credential and returns the resulting terminal
// state. If ctx ends while another validation holds the turn, the current
// state is returned unchanged.
func (m *SessionManager) ValidateSession(ctx context.Context, credential domain.Credential) domain.AuthState {
	select {
	case m.turn <- struct{}{}:
	case <-ctx.Done():
		return m.State()
	}
	defer func() { <-m.turn }()

	if m.disposed() {
		return domain.Failed("", domain.KindUnknown, domain.ErrManagerClosed)
	}

	ctx, reqID := logger.EnsureRequestID(ctx)
	log := m.logger.With("request_id", reqID, "credential_fp", credential.Fingerprint())
	ctx = logger.WithLogger(ctx, log)

	prev := m.State()
	m.stopExpiry()
	m.transition(domain.Validating(prev.SubjectID))

	start := m.now()
	final := m.resolve(ctx, credential, prev)
	if !final.Status.IsTerminal() {
		final = domain.Failed(final.SubjectID, domain.KindUnknown, final.Err)
	}
	final = m.transition(final)
	m.rebind(credential, final)
	m.metrics.ObserveValidation(final.Status.String(), m.now().Sub(start))

	if final.Status == domain.StatusAuthenticated && !final.ExpiresAt.IsZero() {
		m.armExpiry(final)
	}

	log.Info("session validated",
		"status", final.Status.String(),
		"subject_id", final.SubjectID,
		"reason", final.Reason.String(),
	)
	return final
}

// resolve computes the terminal state for one validation.
func (m *SessionManager) resolve(ctx context.Context, credential domain.Credential, prev domain.AuthState) domain.AuthState {
	res, err := m.validator.Validate(ctx, credential)
	if err != nil {
		// No verdict: only the credential this session was issued to may
		// keep its profile.
		subjectID := ""
		if m.bound.matches(credential) {
			subjectID = m.bound.subjectID
		}
		return m.unavailable(ctx, subjectID, prev, err)
	}

	if !res.Valid {
		return domain.Failed("", res.Kind, errForKind(res.Kind))
	}
	if res.Expired(m.now()) {
		return domain.Failed("", domain.KindInvalidCredential, domain.ErrCredentialExpired)
	}

	profile, err := m.profiles.Get(ctx, res.SubjectID)
	if domain.KindOf(err) == domain.KindNotFound {
		profile, err = m.profiles.Create(ctx, res.SubjectID, domain.SeedFromClaims(res.Claims))
	}
	if err != nil {
		return m.unavailable(ctx, res.SubjectID, prev, err)
	}
	return domain.Authenticated(profile, res.ExpiresAt)
}

// unavailable maps a failure that left no verdict to Degraded when a last
// known good profile exists for subjectID, and to Error otherwise. A caller
// that gave up counts as an outage, not a credential fault.
func (m *SessionManager) unavailable(ctx context.Context, subjectID string, prev domain.AuthState, err error) domain.AuthState {
	kind := domain.KindOf(err)
	if ctx.Err() != nil && kind != domain.KindCircuitOpen {
		kind = domain.KindTransient
	}
	if kind != domain.KindTransient && kind != domain.KindCircuitOpen {
		return domain.Failed(subjectID, kind, err)
	}
	if lkg := m.lastKnownGood(subjectID, prev); lkg != nil {
		return domain.Degraded(lkg, kind, err)
	}
	return domain.Failed(subjectID, kind, err)
}

func (m *SessionManager) lastKnownGood(subjectID string, prev domain.AuthState) *domain.UserProfile {
	if subjectID == "" {
		return nil
	}
	if prev.Profile != nil && prev.Profile.SubjectID == subjectID {
		return prev.Profile
	}
	if p, ok := m.profiles.Cached(subjectID); ok {
		return p
	}
	return nil
}

// rebind records which credential the session now belongs to.
func (m *SessionManager) rebind(c domain.Credential, final domain.AuthState) {
	switch {
	case final.Status == domain.StatusAuthenticated:
		m.bound = sessionBinding{credHash: credential.Hash(c.Raw()), subjectID: final.SubjectID}
	case final.Status == domain.StatusError && final.Reason.IsCredentialFailure() && m.bound.matches(c):
		m.bound = sessionBinding{}
	}
}

func errForKind(kind domain.ErrorKind) error {
	switch kind {
	case domain.KindRevokedCredential:
		return domain.ErrCredentialRevoked
	case domain.KindPermissionDenied:
		return domain.ErrPermissionDenied
	default:
		return domain.ErrCredentialInvalid
	}
}

// ============================================================================
// Sign-out and expiry
// ============================================================================

// SignOut moves the session to Unauthenticated.
func (m *SessionManager) SignOut() domain.AuthState {
	m.turn <- struct{}{}
	defer func() { <-m.turn }()

	if m.disposed() {
		return domain.Failed("", domain.KindUnknown, domain.ErrManagerClosed)
	}
	m.stopExpiry()
	m.bound = sessionBinding{}
	if cur := m.State(); cur.Status == domain.StatusUnauthenticated {
		return cur
	}
	return m.transition(domain.Unauthenticated())
}

func (m *SessionManager) armExpiry(st domain.AuthState) {
	wait := st.ExpiresAt.Sub(m.now())
	seq := st.Seq

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry = time.AfterFunc(max(wait, 0), func() { m.expire(seq) })
}

func (m *SessionManager) stopExpiry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
}

// expire ends the session armed at seq unless something else has moved the
// state since.
func (m *SessionManager) expire(seq uint64) {
	m.turn <- struct{}{}
	defer func() { <-m.turn }()

	if m.disposed() || m.State().Seq != seq {
		return
	}
	m.logger.Info("credential expired", "subject_id", m.State().SubjectID)
	m.bound = sessionBinding{}
	m.transition(domain.Unauthenticated())
}

// ============================================================================
// State and subscribers
// ============================================================================

// State returns the current state.
func (m *SessionManager) State() domain.AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CachedProfile returns the cached profile for subjectID without any
// remote call.
func (m *SessionManager) CachedProfile(subjectID string) (*domain.UserProfile, bool) {
	return m.profiles.Cached(subjectID)
}

// Subscribe registers listener for every subsequent transition. Delivery
// is in order on a goroutine owned by the subscription. The returned func
// unsubscribes; it is safe to call more than once.
func (m *SessionManager) Subscribe(listener Listener) (unsubscribe func()) {
	sub := &subscriber{
		id:       logger.NewRequestID(),
		ch:       make(chan domain.AuthState, m.cfg.SubscriberBuffer),
		done:     make(chan struct{}),
		listener: listener,
	}

	m.mu.Lock()
	if m.phase == lifecycleDisposed {
		m.mu.Unlock()
		close(sub.ch)
		return func() {}
	}
	m.subs[sub.id] = sub
	m.mu.Unlock()

	m.metrics.SubscriberAdded(1)
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub.id) })
	}
}

func (m *SessionManager) unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
		close(sub.ch)
	}
	m.mu.Unlock()
	if ok {
		m.metrics.SubscriberAdded(-1)
	}
}

// transition stamps next with a sequence number, stores it and queues it
// for every subscriber. Illegal edges are logged and refused.
func (m *SessionManager) transition(next domain.AuthState) domain.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state
	if !domain.CanTransition(cur.Status, next.Status) {
		m.logger.Error("illegal session transition refused",
			"from", cur.Status.String(),
			"to", next.Status.String(),
		)
		return cur
	}

	next.Seq = cur.Seq + 1
	next.ChangedAt = m.now()
	m.state = next
	m.metrics.ObserveTransition(next.Status.String())

	for _, sub := range m.subs {
		select {
		case sub.ch <- next:
		default:
			m.metrics.NotificationDropped()
			m.logger.Warn("subscriber queue full, transition dropped",
				"subscription", sub.id,
				"status", next.Status.String(),
				"seq", next.Seq,
			)
		}
	}
	return next
}

// ============================================================================
// Lifecycle
// ============================================================================

func (m *SessionManager) disposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase == lifecycleDisposed
}

// Close disposes the manager. It waits for an in-flight validation to
// finish, closes every subscription and waits for queued notifications to
// be delivered. Later calls return an Error state with ErrManagerClosed.
func (m *SessionManager) Close() error {
	m.turn <- struct{}{}

	m.mu.Lock()
	if m.phase == lifecycleDisposed {
		m.mu.Unlock()
		<-m.turn
		return nil
	}
	m.phase = lifecycleDisposed
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	subs := make([]*subscriber, 0, len(m.subs))
	for id, sub := range m.subs {
		subs = append(subs, sub)
		close(sub.ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	<-m.turn

	for _, sub := range subs {
		<-sub.done
	}
	m.metrics.SubscriberAdded(-len(subs))
	m.logger.Info("session manager closed", "subscribers", len(subs))
	return nil
}
