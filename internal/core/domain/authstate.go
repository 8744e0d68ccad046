package domain

import (
	"fmt"
	"time"
)

// AuthStatus is the tag of an AuthState.
type AuthStatus int

const (
	StatusUnauthenticated AuthStatus = iota
	StatusValidating
	StatusAuthenticated
	StatusDegraded
	StatusError
)

var statusNames = [...]string{
	StatusUnauthenticated: "unauthenticated",
	StatusValidating:      "validating",
	StatusAuthenticated:   "authenticated",
	StatusDegraded:        "degraded",
	StatusError:           "error",
}

// String returns the lowercase status name.
func (s AuthStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s AuthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether a validation can end in this status.
func (s AuthStatus) IsTerminal() bool {
	return s != StatusValidating
}

// allowedTransitions lists every legal edge of the session state machine.
var allowedTransitions = map[AuthStatus]map[AuthStatus]struct{}{
	StatusUnauthenticated: {
		StatusValidating: {},
	},
	StatusValidating: {
		StatusAuthenticated: {},
		StatusDegraded:      {},
		StatusError:         {},
	},
	StatusAuthenticated: {
		StatusValidating:      {},
		StatusUnauthenticated: {},
	},
	StatusDegraded: {
		StatusValidating:      {},
		StatusUnauthenticated: {},
	},
	StatusError: {
		StatusValidating:      {},
		StatusUnauthenticated: {},
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to AuthStatus) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// AuthState is the tagged session state owned by the session manager.
//
//   - Unauthenticated: no payload
//   - Validating: SubjectID of the previous session, if any
//   - Authenticated: Profile
//   - Degraded: Profile (last known good) and Reason
//   - Error: Reason and Err
type AuthState struct {
	Status    AuthStatus   `json:"status"`
	SubjectID string       `json:"subject_id,omitempty"`
	Profile   *UserProfile `json:"profile,omitempty"`
	Reason    ErrorKind    `json:"reason,omitempty"`
	Err       error        `json:"-"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
	Seq       uint64       `json:"seq"`
	ChangedAt time.Time    `json:"changed_at"`
}

// Unauthenticated returns the initial state.
func Unauthenticated() AuthState {
	return AuthState{Status: StatusUnauthenticated}
}

// Validating returns the in-progress state for subjectID (may be empty).
func Validating(subjectID string) AuthState {
	return AuthState{Status: StatusValidating, SubjectID: subjectID}
}

// Authenticated returns the state for a validated session with its profile.
func Authenticated(profile *UserProfile, expiresAt time.Time) AuthState {
	return AuthState{
		Status:    StatusAuthenticated,
		SubjectID: profile.SubjectID,
		Profile:   profile,
		ExpiresAt: expiresAt,
	}
}

// Degraded returns the reduced-trust state that keeps the last known good profile.
func Degraded(profile *UserProfile, reason ErrorKind, err error) AuthState {
	return AuthState{
		Status:    StatusDegraded,
		SubjectID: profile.SubjectID,
		Profile:   profile,
		Reason:    reason,
		Err:       err,
	}
}

// Failed returns the Error state. The application must force re-authentication.
func Failed(subjectID string, reason ErrorKind, err error) AuthState {
	if reason == KindNone {
		reason = KindUnknown
	}
	return AuthState{
		Status:    StatusError,
		SubjectID: subjectID,
		Reason:    reason,
		Err:       err,
	}
}

// ErrorMessage returns the diagnostic error text, if any.
func (s AuthState) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// String renders a compact description for logs.
func (s AuthState) String() string {
	switch s.Status {
	case StatusDegraded, StatusError:
		return fmt.Sprintf("%s(%s)", s.Status, s.Reason)
	default:
		return s.Status.String()
	}
}
