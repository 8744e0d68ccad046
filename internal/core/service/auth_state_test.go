package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/resilience"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

type managerFixture struct {
	clock     *testClock
	authority *fakeAuthority
	store     *fakeDocStore
	validator *TokenValidatorService
	profiles  *ProfileService
	manager   *SessionManager
}

func newManagerFixture(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()
	f := &managerFixture{
		clock:     newTestClock(),
		authority: authorityReturning(validIdentity("u1"), nil),
		store:     newFakeDocStore(),
	}
	vcfg := DefaultTokenValidatorConfig()
	vcfg.Retry.MaxAttempts = 5
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig("identity"),
		resilience.WithClock(f.clock.Now), resilience.WithBreakerLogger(logger.Discard()))
	f.validator = NewTokenValidator(f.authority, newTestRetrier(), breaker, vcfg,
		WithValidatorClock(f.clock.Now), WithValidatorLogger(logger.Discard()))
	f.profiles = newTestProfileStore(t, f.store, f.clock)

	opts = append([]ManagerOption{WithManagerClock(f.clock.Now), WithManagerLogger(logger.Discard())}, opts...)
	f.manager = NewSessionManager(f.validator, f.profiles, DefaultSessionManagerConfig(), opts...)
	t.Cleanup(func() { _ = f.manager.Close() })
	return f
}

func (f *managerFixture) authorityFails(err error) {
	f.authority.fn = func(context.Context, domain.Credential) (*domain.Identity, error) {
		return nil, err
	}
}

// collector records every state delivered to a subscriber.
type collector struct {
	mu     sync.Mutex
	states []domain.AuthState
}

func (c *collector) listen(s domain.AuthState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *collector) statuses() []domain.AuthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.AuthStatus, len(c.states))
	for i, s := range c.states {
		out[i] = s.Status
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValidateSession_CreatesMissingProfile(t *testing.T) {
	f := newManagerFixture(t)

	st := f.manager.ValidateSession(context.Background(), "cred")
	if st.Status != domain.StatusAuthenticated {
		t.Fatalf("status = %v (%v), want authenticated", st.Status, st.Err)
	}
	if st.Profile == nil || st.Profile.Version != 1 || st.Profile.Fields[domain.FieldRole] != domain.DefaultRole {
		t.Errorf("profile = %+v, want fresh default", st.Profile)
	}
	if st.Profile.Fields[domain.FieldEmail] != "u1@example.com" {
		t.Errorf("email = %v, want seeded from claims", st.Profile.Fields[domain.FieldEmail])
	}
	if f.store.creates.Load() != 1 {
		t.Errorf("creates = %d, want 1", f.store.creates.Load())
	}
	if st.Seq != 2 {
		t.Errorf("Seq = %d, want 2 (validating, authenticated)", st.Seq)
	}
}

func TestValidateSession_TimeoutsWithoutCacheIsError(t *testing.T) {
	f := newManagerFixture(t)
	f.authorityFails(domain.ErrIdentityTimeout)

	st := f.manager.ValidateSession(context.Background(), "cred")
	if st.Status != domain.StatusError || st.Reason != domain.KindTransient {
		t.Errorf("state = %v, want error(transient)", st)
	}
	if got := f.authority.calls.Load(); got != 5 {
		t.Errorf("authority calls = %d, want 5", got)
	}
}

func TestValidateSession_TimeoutsWithCacheIsDegraded(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	if st := f.manager.ValidateSession(ctx, "cred"); st.Status != domain.StatusAuthenticated {
		t.Fatalf("first validation = %v", st)
	}
	f.authorityFails(domain.ErrIdentityTimeout)

	st := f.manager.ValidateSession(ctx, "cred")
	if st.Status != domain.StatusDegraded || st.Reason != domain.KindTransient {
		t.Fatalf("state = %v, want degraded(transient)", st)
	}
	if st.Profile == nil || st.Profile.SubjectID != "u1" {
		t.Errorf("degraded profile = %+v, want last known good", st.Profile)
	}
}

func TestValidateSession_OutageDoesNotLendProfileToOtherCredential(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	if st := f.manager.ValidateSession(ctx, "alice-cred"); st.Status != domain.StatusAuthenticated {
		t.Fatalf("first validation = %v", st)
	}
	f.authorityFails(domain.ErrIdentityTimeout)

	st := f.manager.ValidateSession(ctx, "never-issued")
	if st.Status != domain.StatusError || st.Reason != domain.KindTransient {
		t.Fatalf("state = %v, want error(transient)", st)
	}
	if st.Profile != nil || st.SubjectID != "" {
		t.Errorf("unverified credential inherited subject %q", st.SubjectID)
	}

	// The credential the session was issued to still degrades.
	st = f.manager.ValidateSession(ctx, "alice-cred")
	if st.Status != domain.StatusDegraded || st.Profile == nil || st.Profile.SubjectID != "u1" {
		t.Errorf("state = %v, want degraded with u1 profile", st)
	}
}

func TestValidateSession_SignOutDropsFallback(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.manager.ValidateSession(ctx, "cred")
	f.manager.SignOut()
	f.authorityFails(domain.ErrIdentityTimeout)

	st := f.manager.ValidateSession(ctx, "cred")
	if st.Status != domain.StatusError || st.Reason != domain.KindTransient {
		t.Errorf("state = %v, want error(transient) after sign-out", st)
	}
}

func TestValidateSession_CallerCancelIsNotACredentialFault(t *testing.T) {
	tests := []struct {
		name       string
		authFirst  bool
		wantStatus domain.AuthStatus
	}{
		{"authenticated session degrades", true, domain.StatusDegraded},
		{"no session is transient error", false, domain.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t)
			if tt.authFirst {
				if st := f.manager.ValidateSession(context.Background(), "cred"); st.Status != domain.StatusAuthenticated {
					t.Fatalf("first validation = %v", st)
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.authority.fn = func(c context.Context, _ domain.Credential) (*domain.Identity, error) {
				cancel()
				<-c.Done()
				return nil, c.Err()
			}

			st := f.manager.ValidateSession(ctx, "cred")
			if st.Status != tt.wantStatus || st.Reason != domain.KindTransient {
				t.Errorf("state = %v, want %v(transient)", st, tt.wantStatus)
			}
		})
	}
}

func TestValidateSession_ProfileStoreDownUsesCachedProfile(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	if st := f.manager.ValidateSession(ctx, "cred"); st.Status != domain.StatusAuthenticated {
		t.Fatalf("first validation = %v", st)
	}
	f.clock.Advance(DefaultProfileTTL + time.Second)
	f.store.failReads(domain.ErrProfileStoreUnavailable)

	// A new session on the same profile store has no previous profile of
	// its own and falls back to the stale cache entry.
	m := NewSessionManager(f.validator, f.profiles, DefaultSessionManagerConfig(),
		WithManagerClock(f.clock.Now), WithManagerLogger(logger.Discard()))
	defer m.Close()

	st := m.ValidateSession(ctx, "cred")
	if st.Status != domain.StatusDegraded || st.Reason != domain.KindTransient {
		t.Fatalf("state = %v, want degraded(transient)", st)
	}
	if st.Profile == nil || st.Profile.SubjectID != "u1" {
		t.Errorf("profile = %+v, want cached u1", st.Profile)
	}
}

func TestValidateSession_CircuitOpen(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.manager.ValidateSession(ctx, "cred")
	f.validator.Breaker().Reset()
	f.authorityFails(domain.ErrIdentityUnavailable)
	for i := 0; i < resilience.DefaultThreshold; i++ {
		f.manager.ValidateSession(ctx, "cred")
	}

	calls := f.authority.calls.Load()
	st := f.manager.ValidateSession(ctx, "cred")
	if st.Status != domain.StatusDegraded || st.Reason != domain.KindCircuitOpen {
		t.Errorf("state = %v, want degraded(circuit_open)", st)
	}
	if f.authority.calls.Load() != calls {
		t.Error("authority called while circuit open")
	}
}

func TestValidateSession_RevokedIsError(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.manager.ValidateSession(ctx, "cred")
	f.authorityFails(domain.ErrCredentialRevoked)

	st := f.manager.ValidateSession(ctx, "cred")
	if st.Status != domain.StatusError || st.Reason != domain.KindRevokedCredential {
		t.Errorf("state = %v, want error(revoked_credential)", st)
	}
	if st.Profile != nil {
		t.Error("error state must not carry a profile")
	}
	if !errors.Is(st.Err, domain.ErrCredentialRevoked) {
		t.Errorf("Err = %v", st.Err)
	}
}

func TestValidateSession_ExpiredClaim(t *testing.T) {
	f := newManagerFixture(t)
	id := validIdentity("u1")
	id.Claims["exp"] = float64(f.clock.Now().Add(-time.Minute).Unix())
	f.authority.fn = func(context.Context, domain.Credential) (*domain.Identity, error) { return id, nil }

	st := f.manager.ValidateSession(context.Background(), "cred")
	if st.Status != domain.StatusError || st.Reason != domain.KindInvalidCredential {
		t.Errorf("state = %v, want error(invalid_credential)", st)
	}
}

func TestSubscribe_OrderedDelivery(t *testing.T) {
	f := newManagerFixture(t)
	c := &collector{}
	unsubscribe := f.manager.Subscribe(c.listen)

	f.manager.ValidateSession(context.Background(), "cred")
	f.manager.SignOut()

	want := []domain.AuthStatus{domain.StatusValidating, domain.StatusAuthenticated, domain.StatusUnauthenticated}
	waitFor(t, func() bool { return len(c.statuses()) == len(want) })
	for i, s := range c.statuses() {
		if s != want[i] {
			t.Errorf("delivery %d = %v, want %v", i, s, want[i])
		}
	}

	unsubscribe()
	unsubscribe()
	f.manager.ValidateSession(context.Background(), "cred")
	time.Sleep(20 * time.Millisecond)
	if got := len(c.statuses()); got != len(want) {
		t.Errorf("deliveries after unsubscribe = %d, want %d", got, len(want))
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	reg := metric.NewRegistry()
	f := newManagerFixture(t, WithManagerMetrics(reg))
	f.manager.cfg.SubscriberBuffer = 1

	block := make(chan struct{})
	f.manager.Subscribe(func(domain.AuthState) { <-block })
	fast := &collector{}
	f.manager.Subscribe(fast.listen)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			f.manager.ValidateSession(context.Background(), "cred")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(block)

	if got := testutil.ToFloat64(reg.NotificationsDropped); got == 0 {
		t.Error("expected dropped notifications for the slow subscriber")
	}
}

func TestSignOut(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.ValidateSession(context.Background(), "cred")

	st := f.manager.SignOut()
	if st.Status != domain.StatusUnauthenticated {
		t.Fatalf("SignOut() = %v", st)
	}
	if again := f.manager.SignOut(); again.Seq != st.Seq {
		t.Errorf("second SignOut() moved the state: seq %d -> %d", st.Seq, again.Seq)
	}
	if _, ok := f.manager.CachedProfile("u1"); !ok {
		t.Error("CachedProfile() should survive sign-out")
	}
}

func TestExpiryTimer(t *testing.T) {
	f := newManagerFixture(t, WithManagerClock(time.Now))
	id := validIdentity("u1")
	exp := time.Now().Add(50 * time.Millisecond)
	id.Claims["exp"] = float64(exp.UnixNano()) / 1e9
	f.authority.fn = func(context.Context, domain.Credential) (*domain.Identity, error) { return id, nil }

	st := f.manager.ValidateSession(context.Background(), "cred")
	if st.Status != domain.StatusAuthenticated {
		t.Fatalf("state = %v (%v)", st, st.Err)
	}
	waitFor(t, func() bool { return f.manager.State().Status == domain.StatusUnauthenticated })
}

func TestValidateSession_WaitingCallerGivesUp(t *testing.T) {
	f := newManagerFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.authority.fn = func(context.Context, domain.Credential) (*domain.Identity, error) {
		close(entered)
		<-release
		return validIdentity("u1"), nil
	}

	first := make(chan domain.AuthState, 1)
	go func() { first <- f.manager.ValidateSession(context.Background(), "cred") }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	st := f.manager.ValidateSession(ctx, "cred")
	if st.Status != domain.StatusValidating {
		t.Errorf("waiting caller got %v, want the current validating state", st)
	}

	close(release)
	if got := <-first; got.Status != domain.StatusAuthenticated {
		t.Errorf("first caller got %v", got)
	}
}

func TestClose(t *testing.T) {
	f := newManagerFixture(t)
	c := &collector{}
	f.manager.Subscribe(c.listen)
	f.manager.ValidateSession(context.Background(), "cred")

	if err := f.manager.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(c.statuses()); got != 2 {
		t.Errorf("deliveries before close = %d, want 2", got)
	}

	st := f.manager.ValidateSession(context.Background(), "cred")
	if st.Status != domain.StatusError || !errors.Is(st.Err, domain.ErrManagerClosed) {
		t.Errorf("ValidateSession() after Close = %v", st)
	}
	if err := f.manager.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	f.manager.Subscribe(c.listen)()
}

func TestValidateSession_WithStubValidator(t *testing.T) {
	clock := newTestClock()
	v := &stubValidator{}
	v.set(nil, domain.ErrCircuitOpen)
	profiles := newTestProfileStore(t, newFakeDocStore(), clock)
	m := NewSessionManager(v, profiles, DefaultSessionManagerConfig(),
		WithManagerClock(clock.Now), WithManagerLogger(logger.Discard()))
	defer m.Close()

	st := m.ValidateSession(context.Background(), "cred")
	if st.Status != domain.StatusError || st.Reason != domain.KindCircuitOpen {
		t.Errorf("state = %v, want error(circuit_open) with no cached profile", st)
	}
}
