package service

import (
	"context"

	"github.com/yndnr/sessionguard/internal/core/domain"
)

// ============================================================================
// Consumed
// ============================================================================

// IdentityAuthority verifies credentials against the remote identity service.
//
// Implementations classify failures with domain error sentinels so that
// domain.KindOf returns the right kind: transport problems are Transient,
// rejected credentials are InvalidCredential or RevokedCredential.
type IdentityAuthority interface {
	VerifyCredential(ctx context.Context, credential domain.Credential) (*domain.Identity, error)
}

// ProfileDocumentStore is the remote source of truth for user profiles.
type ProfileDocumentStore interface {
	// Read returns the record or an error of kind NotFound.
	Read(ctx context.Context, subjectID string) (*domain.UserProfile, error)

	// WriteIfVersion replaces the record when its stored version equals
	// expectedVersion. Otherwise it returns an error of kind VersionConflict.
	WriteIfVersion(ctx context.Context, profile *domain.UserProfile, expectedVersion uint64) error

	// Create writes a new record or returns an error of kind AlreadyExists.
	Create(ctx context.Context, profile *domain.UserProfile) error
}

// ============================================================================
// Exposed
// ============================================================================

// TokenValidator checks a session credential.
//
// Credential verdicts (invalid, revoked, permission denied) are reported in
// the result with Valid=false and a nil error. The error is non-nil only when
// no verdict could be obtained: an open circuit or exhausted transient
// failures.
type TokenValidator interface {
	Validate(ctx context.Context, credential domain.Credential) (*domain.ValidationResult, error)
}

// ProfileStore is the cached view over the profile document store.
type ProfileStore interface {
	Get(ctx context.Context, subjectID string) (*domain.UserProfile, error)
	Create(ctx context.Context, subjectID string, seed map[string]any) (*domain.UserProfile, error)
	Update(ctx context.Context, subjectID string, patch domain.ProfilePatch) (*domain.UserProfile, error)

	// Cached returns the last known profile without any remote call. The
	// entry may be past its TTL.
	Cached(subjectID string) (*domain.UserProfile, bool)
}

// Listener receives session state transitions.
type Listener func(domain.AuthState)

// AuthStateManager owns the session state machine.
type AuthStateManager interface {
	ValidateSession(ctx context.Context, credential domain.Credential) domain.AuthState
	Subscribe(listener Listener) (unsubscribe func())
	CachedProfile(subjectID string) (*domain.UserProfile, bool)
	SignOut() domain.AuthState
	State() domain.AuthState
}
