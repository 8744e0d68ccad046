package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and state-machine decisions.
// Callers branch on the kind, never on error text.
type ErrorKind int

const (
	// KindNone marks the absence of an error.
	KindNone ErrorKind = iota
	// KindTransient covers network failures, timeouts and rate limiting.
	KindTransient
	// KindCircuitOpen is returned without a remote call while a breaker is open.
	KindCircuitOpen
	// KindInvalidCredential covers malformed, unknown or expired credentials.
	KindInvalidCredential
	// KindRevokedCredential marks a credential the authority has revoked.
	KindRevokedCredential
	// KindPermissionDenied is returned when the caller may not perform the check.
	KindPermissionDenied
	// KindVersionConflict is an optimistic-lock failure on a profile write.
	KindVersionConflict
	// KindNotFound marks a missing profile record.
	KindNotFound
	// KindAlreadyExists marks a create that lost against an existing record.
	KindAlreadyExists
	// KindUnknown is any uncategorized failure. It is never retried.
	KindUnknown
)

var kindNames = map[ErrorKind]string{
	KindNone:              "none",
	KindTransient:         "transient",
	KindCircuitOpen:       "circuit_open",
	KindInvalidCredential: "invalid_credential",
	KindRevokedCredential: "revoked_credential",
	KindPermissionDenied:  "permission_denied",
	KindVersionConflict:   "version_conflict",
	KindNotFound:          "not_found",
	KindAlreadyExists:     "already_exists",
	KindUnknown:           "unknown",
}

// String returns the snake_case name of the kind.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler so kinds render by name in
// JSON and YAML output.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsCredentialFailure reports whether the kind is a definitive answer from
// the identity authority about the credential itself.
func (k ErrorKind) IsCredentialFailure() bool {
	switch k {
	case KindInvalidCredential, KindRevokedCredential, KindPermissionDenied:
		return true
	default:
		return false
	}
}

// DomainError represents a business domain error with a structured error code.
// Codes follow the format SG-<AREA>-<NNNN>.
type DomainError struct {
	Code    string    // Error code (e.g., "SG-IDP-5030")
	Kind    ErrorKind // Classification used for retry decisions
	Message string    // Human-readable message
	Details string    // Optional additional details
	Cause   error     // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match on code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code, kind and message.
func NewDomainError(code string, kind ErrorKind, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// KindOf classifies err. The outermost DomainError wins; bare deadline
// errors are transient; anything else is unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// Identity authority errors (IDP).
var (
	// ErrIdentityUnavailable indicates the authority could not be reached or answered 5xx.
	ErrIdentityUnavailable = NewDomainError("SG-IDP-5030", KindTransient, "identity authority unavailable")

	// ErrIdentityTimeout indicates a call to the authority exceeded its deadline.
	ErrIdentityTimeout = NewDomainError("SG-IDP-5040", KindTransient, "identity authority timeout")

	// ErrIdentityRateLimited indicates the authority (or the local limiter) throttled the call.
	ErrIdentityRateLimited = NewDomainError("SG-IDP-4290", KindTransient, "identity authority rate limited")

	// ErrCredentialMalformed indicates the credential cannot be parsed at all.
	ErrCredentialMalformed = NewDomainError("SG-IDP-4000", KindInvalidCredential, "malformed credential")

	// ErrCredentialInvalid indicates the authority does not recognise the credential.
	ErrCredentialInvalid = NewDomainError("SG-IDP-4010", KindInvalidCredential, "invalid credential")

	// ErrCredentialExpired indicates the credential is past its expiry.
	ErrCredentialExpired = NewDomainError("SG-IDP-4011", KindInvalidCredential, "credential expired")

	// ErrCredentialRevoked indicates the credential was revoked.
	ErrCredentialRevoked = NewDomainError("SG-IDP-4012", KindRevokedCredential, "credential revoked")

	// ErrPermissionDenied indicates the authority refused the check.
	ErrPermissionDenied = NewDomainError("SG-IDP-4030", KindPermissionDenied, "permission denied")
)

// Profile store errors (PROF).
var (
	// ErrProfileNotFound indicates no record exists for the subject.
	ErrProfileNotFound = NewDomainError("SG-PROF-4040", KindNotFound, "profile not found")

	// ErrProfileExists indicates a create raced with an existing record.
	ErrProfileExists = NewDomainError("SG-PROF-4090", KindAlreadyExists, "profile already exists")

	// ErrVersionConflict indicates an optimistic lock conflict.
	ErrVersionConflict = NewDomainError("SG-PROF-4091", KindVersionConflict, "version conflict, please retry")

	// ErrProfileStoreUnavailable indicates the document store could not be reached.
	ErrProfileStoreUnavailable = NewDomainError("SG-PROF-5030", KindTransient, "profile store unavailable")

	// ErrProfileValidation indicates profile data validation failed.
	ErrProfileValidation = NewDomainError("SG-PROF-4001", KindUnknown, "profile validation failed")
)

// Breaker errors (BRK).
var (
	// ErrCircuitOpen indicates the dependency is isolated and no call was made.
	ErrCircuitOpen = NewDomainError("SG-BRK-5031", KindCircuitOpen, "circuit open")
)

// System errors (SYS).
var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("SG-SYS-5000", KindUnknown, "internal error")

	// ErrStorage indicates a storage layer error.
	ErrStorage = NewDomainError("SG-SYS-5001", KindUnknown, "storage error")

	// ErrManagerClosed indicates the session manager has been disposed.
	ErrManagerClosed = NewDomainError("SG-SYS-5002", KindUnknown, "session manager closed")
)

// Argument errors (ARG).
var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("SG-ARG-1001", KindUnknown, "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("SG-ARG-1002", KindUnknown, "missing required argument")
)
