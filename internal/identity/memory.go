package identity

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/pkg/credential"
)

type memoryEntry struct {
	subjectID string
	claims    map[string]any
	revoked   bool
}

// MemoryAuthority is an in-process IdentityAuthority. Credentials are kept
// by hash only.
type MemoryAuthority struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// MemoryOption configures a MemoryAuthority.
type MemoryOption func(*MemoryAuthority)

// WithMemoryClock sets the clock used for "exp" checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(a *MemoryAuthority) { a.now = now }
}

// NewMemoryAuthority creates an empty authority.
func NewMemoryAuthority(opts ...MemoryOption) *MemoryAuthority {
	a := &MemoryAuthority{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue generates a new credential for subjectID.
func (a *MemoryAuthority) Issue(subjectID string, claims map[string]any) (domain.Credential, error) {
	raw, err := credential.Generate()
	if err != nil {
		return "", domain.ErrInternal.WithCause(err)
	}
	cred := domain.Credential(raw)
	if err := a.Add(cred, subjectID, claims); err != nil {
		return "", err
	}
	return cred, nil
}

// Add registers an existing credential for subjectID, replacing any
// previous registration of the same credential.
func (a *MemoryAuthority) Add(cred domain.Credential, subjectID string, claims map[string]any) error {
	if cred.IsEmpty() {
		return domain.ErrMissingArgument.WithDetails("credential is required")
	}
	if err := domain.ValidateSubjectID(subjectID); err != nil {
		return err
	}
	entry := &memoryEntry{subjectID: subjectID, claims: domain.CloneFields(claims)}
	if entry.claims == nil {
		entry.claims = make(map[string]any)
	}
	entry.claims["sub"] = subjectID

	a.mu.Lock()
	a.entries[credential.Hash(cred.Raw())] = entry
	a.mu.Unlock()
	return nil
}

// Revoke marks cred as revoked. It reports whether cred was known.
func (a *MemoryAuthority) Revoke(cred domain.Credential) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[credential.Hash(cred.Raw())]
	if ok {
		e.revoked = true
	}
	return ok
}

// Len returns the number of registered credentials.
func (a *MemoryAuthority) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// VerifyCredential implements service.IdentityAuthority.
func (a *MemoryAuthority) VerifyCredential(ctx context.Context, cred domain.Credential) (*domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	e, ok := a.entries[credential.Hash(cred.Raw())]
	var id *domain.Identity
	var revoked bool
	if ok {
		revoked = e.revoked
		id = &domain.Identity{SubjectID: e.subjectID, Claims: domain.CloneFields(e.claims)}
	}
	a.mu.RUnlock()

	switch {
	case !ok:
		return nil, domain.ErrCredentialInvalid
	case revoked:
		return nil, domain.ErrCredentialRevoked
	}
	if exp := domain.ExpiryFromClaims(id.Claims); !exp.IsZero() && !a.now().Before(exp) {
		return nil, domain.ErrCredentialExpired
	}
	return id, nil
}
