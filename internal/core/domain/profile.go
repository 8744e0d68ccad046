package domain

import (
	"fmt"
	"strings"
	"time"
)

// Profile constraints.
const (
	MaxSubjectIDLength = 256
	MaxFieldKeyLength  = 64
	MaxFieldCount      = 128
)

// Default profile field names written by Create.
const (
	FieldDisplayName = "display_name"
	FieldEmail       = "email"
	FieldRole        = "role"
	FieldPlan        = "plan"

	DefaultRole = "member"
	DefaultPlan = "free"
)

// UserProfile is the per-user record held in the profile document store.
// Version increases by one on every committed write and is the optimistic
// lock token for WriteIfVersion.
type UserProfile struct {
	SubjectID     string         `json:"subject_id" cbor:"1,keyasint"`
	Fields        map[string]any `json:"fields" cbor:"2,keyasint"`
	Version       uint64         `json:"version" cbor:"3,keyasint"`
	CreatedAt     time.Time      `json:"created_at" cbor:"4,keyasint"`
	UpdatedAt     time.Time      `json:"updated_at" cbor:"5,keyasint"`
	LastFetchedAt time.Time      `json:"last_fetched_at" cbor:"-"`
}

// ProfilePatch is a partial update. A nil value removes the field.
type ProfilePatch map[string]any

// NewDefaultProfile builds the record written for a subject seen for the
// first time. Seed values override the defaults.
func NewDefaultProfile(subjectID string, seed map[string]any, now time.Time) *UserProfile {
	fields := map[string]any{
		FieldRole: DefaultRole,
		FieldPlan: DefaultPlan,
	}
	for k, v := range seed {
		if v == nil {
			continue
		}
		fields[k] = v
	}
	return &UserProfile{
		SubjectID: subjectID,
		Fields:    fields,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SeedFromClaims extracts default profile fields from identity claims.
func SeedFromClaims(claims map[string]any) map[string]any {
	seed := make(map[string]any)
	if v, ok := claims["name"].(string); ok && v != "" {
		seed[FieldDisplayName] = v
	}
	if v, ok := claims["email"].(string); ok && v != "" {
		seed[FieldEmail] = v
	}
	return seed
}

// Clone returns a copy whose Fields map can be mutated independently.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Fields = CloneFields(p.Fields)
	return &cp
}

// Apply returns the next version of the profile with patch merged in.
// The receiver is not modified.
func (p *UserProfile) Apply(patch ProfilePatch, now time.Time) *UserProfile {
	next := p.Clone()
	if next.Fields == nil {
		next.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(next.Fields, k)
			continue
		}
		next.Fields[k] = v
	}
	next.Version = p.Version + 1
	next.UpdatedAt = now
	return next
}

// Validate checks the record before it is written.
func (p *UserProfile) Validate() error {
	if err := ValidateSubjectID(p.SubjectID); err != nil {
		return err
	}
	if len(p.Fields) > MaxFieldCount {
		return ErrProfileValidation.WithDetails(fmt.Sprintf("too many fields: %d (max %d)", len(p.Fields), MaxFieldCount))
	}
	for k := range p.Fields {
		if k == "" || len(k) > MaxFieldKeyLength {
			return ErrProfileValidation.WithDetails(fmt.Sprintf("invalid field key %q", k))
		}
	}
	if p.Version == 0 {
		return ErrProfileValidation.WithDetails("version must be positive")
	}
	return nil
}

// ValidateSubjectID checks a subject identifier used as a store key.
func ValidateSubjectID(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return ErrMissingArgument.WithDetails("subject_id is required")
	}
	if len(subjectID) > MaxSubjectIDLength {
		return ErrInvalidArgument.WithDetails("subject_id too long")
	}
	return nil
}

// Validate checks a patch before it is applied.
func (p ProfilePatch) Validate() error {
	if len(p) == 0 {
		return ErrMissingArgument.WithDetails("patch is empty")
	}
	for k := range p {
		if k == "" || len(k) > MaxFieldKeyLength {
			return ErrInvalidArgument.WithDetails(fmt.Sprintf("invalid field key %q", k))
		}
	}
	return nil
}

// CloneFields deep-copies a field map. Nested map[string]any and []any
// values are copied too; other values are shared. Nil stays nil.
func CloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
