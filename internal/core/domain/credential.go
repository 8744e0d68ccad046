package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/yndnr/sessionguard/pkg/credential"
)

// Credential is an opaque bearer session credential. It is passed by value
// and never persisted. String() never reveals the raw value.
type Credential string

// String implements fmt.Stringer with a redacted form.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "cred:" + c.Fingerprint()
}

// Fingerprint returns a short digest suitable for logs.
func (c Credential) Fingerprint() string {
	return credential.Fingerprint(string(c))
}

// Raw returns the credential value for transmission to the authority.
func (c Credential) Raw() string {
	return string(c)
}

// IsEmpty reports whether no credential was supplied.
func (c Credential) IsEmpty() bool {
	return c == ""
}

// Identity is what the identity authority asserts about a valid credential.
type Identity struct {
	SubjectID string
	Claims    map[string]any
}

// ValidationResult is the immutable outcome of one validation call.
type ValidationResult struct {
	Valid       bool           `json:"valid"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Claims      map[string]any `json:"claims,omitempty"`
	Kind        ErrorKind      `json:"error,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at,omitempty"`
	ValidatedAt time.Time      `json:"validated_at"`
}

// NewValidResult builds a successful result from an asserted identity.
// Claims are copied and the expiry is read from the "exp" claim.
func NewValidResult(id *Identity, now time.Time) *ValidationResult {
	claims := CloneFields(id.Claims)
	return &ValidationResult{
		Valid:       true,
		SubjectID:   id.SubjectID,
		Claims:      claims,
		ExpiresAt:   ExpiryFromClaims(claims),
		ValidatedAt: now,
	}
}

// NewFailedResult builds a result for a failed validation.
func NewFailedResult(kind ErrorKind, now time.Time) *ValidationResult {
	return &ValidationResult{
		Valid:       false,
		Kind:        kind,
		ValidatedAt: now,
	}
}

// Expired reports whether the result carries an expiry that is not after now.
func (r *ValidationResult) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ExpiryFromClaims reads the "exp" claim (seconds since the Unix epoch).
// Missing or unparseable values yield the zero time.
func ExpiryFromClaims(claims map[string]any) time.Time {
	raw, ok := claims["exp"]
	if !ok {
		return time.Time{}
	}

	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case float32:
		secs = float64(v)
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case uint64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return time.Time{}
		}
		secs = f
	default:
		return time.Time{}
	}

	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
