package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/resilience"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
)

// fakeAuthority counts calls and answers with fn.
type fakeAuthority struct {
	calls atomic.Int32
	fn    func(ctx context.Context, c domain.Credential) (*domain.Identity, error)
}

func (a *fakeAuthority) VerifyCredential(ctx context.Context, c domain.Credential) (*domain.Identity, error) {
	a.calls.Add(1)
	return a.fn(ctx, c)
}

func authorityReturning(id *domain.Identity, err error) *fakeAuthority {
	return &fakeAuthority{fn: func(context.Context, domain.Credential) (*domain.Identity, error) {
		return id, err
	}}
}

// fakeDocStore is an in-memory ProfileDocumentStore with call counters and
// hooks for forcing interleavings.
type fakeDocStore struct {
	mu      sync.Mutex
	records map[string]*domain.UserProfile

	reads     atomic.Int32
	writes    atomic.Int32
	creates   atomic.Int32
	conflicts atomic.Int32

	// readHook runs before the n-th (1-based) read is served.
	readHook func(ctx context.Context, n int32)
	// writeHook runs before the n-th (1-based) write is applied.
	writeHook func(n int32)
	// createErr, when set, is returned by Create.
	createErr error
	// readErr, when set, is returned by Read.
	readErr error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{records: make(map[string]*domain.UserProfile)}
}

func (s *fakeDocStore) put(p *domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.SubjectID] = p.Clone()
}

func (s *fakeDocStore) failReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *fakeDocStore) get(id string) *domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone()
}

func (s *fakeDocStore) Read(ctx context.Context, id string) (*domain.UserProfile, error) {
	n := s.reads.Add(1)
	if s.readHook != nil {
		s.readHook(ctx, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	p, ok := s.records[id]
	if !ok {
		return nil, domain.ErrProfileNotFound.WithDetails(id)
	}
	return p.Clone(), nil
}

func (s *fakeDocStore) WriteIfVersion(_ context.Context, p *domain.UserProfile, expected uint64) error {
	n := s.writes.Add(1)
	if s.writeHook != nil {
		s.writeHook(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[p.SubjectID]
	if !ok {
		return domain.ErrProfileNotFound.WithDetails(p.SubjectID)
	}
	if cur.Version != expected {
		s.conflicts.Add(1)
		return domain.ErrVersionConflict
	}
	s.records[p.SubjectID] = p.Clone()
	return nil
}

func (s *fakeDocStore) Create(_ context.Context, p *domain.UserProfile) error {
	s.creates.Add(1)
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[p.SubjectID]; ok {
		return domain.ErrProfileExists
	}
	s.records[p.SubjectID] = p.Clone()
	return nil
}

// stubValidator returns a fixed answer.
type stubValidator struct {
	mu  sync.Mutex
	res *domain.ValidationResult
	err error
	fn  func(ctx context.Context) (*domain.ValidationResult, error)
}

func (v *stubValidator) set(res *domain.ValidationResult, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.res, v.err = res, err
}

func (v *stubValidator) Validate(ctx context.Context, _ domain.Credential) (*domain.ValidationResult, error) {
	v.mu.Lock()
	fn, res, err := v.fn, v.res, v.err
	v.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return res, err
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestRetrier() *resilience.Coordinator {
	return resilience.NewCoordinator(
		resilience.WithLogger(logger.Discard()),
		resilience.WithSleep(noSleep),
	)
}

func validIdentity(sub string) *domain.Identity {
	return &domain.Identity{
		SubjectID: sub,
		Claims:    map[string]any{"sub": sub, "name": "Ada Lovelace", "email": sub + "@example.com"},
	}
}
