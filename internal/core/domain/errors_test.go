package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("SG-TEST-1000", KindUnknown, "test message"),
			expected: "[SG-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("SG-TEST-1001", KindUnknown, "test message").WithDetails("extra info"),
			expected: "[SG-TEST-1001] test message: extra info",
		},
		{
			name:     "error with cause",
			err:      NewDomainError("SG-TEST-1002", KindUnknown, "test message").WithCause(fmt.Errorf("boom")),
			expected: "[SG-TEST-1002] test message: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("SG-TEST-1000", KindTransient, "message 1")
	err2 := NewDomainError("SG-TEST-1000", KindTransient, "message 2")
	err3 := NewDomainError("SG-TEST-1001", KindTransient, "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_CopiesDoNotMutateSentinel(t *testing.T) {
	_ = ErrCredentialInvalid.WithDetails("x").WithCause(errors.New("y"))
	if ErrCredentialInvalid.Details != "" || ErrCredentialInvalid.Cause != nil {
		t.Fatal("WithDetails/WithCause mutated the sentinel")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"domain transient", ErrIdentityUnavailable, KindTransient},
		{"wrapped domain", fmt.Errorf("call: %w", ErrCredentialRevoked), KindRevokedCredential},
		{"outermost wins", ErrProfileStoreUnavailable.WithCause(ErrVersionConflict), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"wrapped deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), KindTransient},
		{"canceled", context.Canceled, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"circuit", ErrCircuitOpen, KindCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	if KindCircuitOpen.String() != "circuit_open" {
		t.Errorf("String() = %q", KindCircuitOpen.String())
	}
	if ErrorKind(99).String() != "kind(99)" {
		t.Errorf("String() = %q", ErrorKind(99).String())
	}
	if !KindRevokedCredential.IsCredentialFailure() || KindTransient.IsCredentialFailure() {
		t.Error("IsCredentialFailure() misclassified")
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(fmt.Errorf("wrap: %w", ErrVersionConflict)); got != "SG-PROF-4091" {
		t.Errorf("GetErrorCode() = %q", got)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode() = %q, want empty", got)
	}
	if !IsDomainError(ErrCircuitOpen, "") || IsDomainError(errors.New("x"), "") {
		t.Error("IsDomainError() misclassified")
	}
}
