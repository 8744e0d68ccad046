package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/pkg/cmap"
)

// ProfileStore implements service.ProfileDocumentStore in memory.
type ProfileStore struct {
	profiles *cmap.Map[*domain.UserProfile]

	reads  atomic.Int64
	writes atomic.Int64
}

// NewProfileStore creates an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: cmap.New[*domain.UserProfile]()}
}

// Read implements service.ProfileDocumentStore.
func (s *ProfileStore) Read(ctx context.Context, subjectID string) (*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.reads.Add(1)
	p, ok := s.profiles.Get(subjectID)
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// Create implements service.ProfileDocumentStore.
func (s *ProfileStore) Create(ctx context.Context, profile *domain.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	s.writes.Add(1)
	if !s.profiles.SetIfAbsent(profile.SubjectID, profile.Clone()) {
		return domain.ErrProfileExists
	}
	return nil
}

// WriteIfVersion implements service.ProfileDocumentStore.
func (s *ProfileStore) WriteIfVersion(ctx context.Context, profile *domain.UserProfile, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	s.writes.Add(1)

	var result error
	next := profile.Clone()
	s.profiles.Compute(profile.SubjectID, func(cur *domain.UserProfile, exists bool) (*domain.UserProfile, cmap.Op) {
		switch {
		case !exists:
			result = domain.ErrProfileNotFound
			return nil, cmap.Keep
		case cur.Version != expectedVersion:
			result = domain.ErrVersionConflict.WithDetails(
				fmt.Sprintf("stored version %d, expected %d", cur.Version, expectedVersion))
			return cur, cmap.Keep
		}
		return next, cmap.Store
	})
	return result
}

// Put stores profile unconditionally. It is meant for seeding.
func (s *ProfileStore) Put(profile *domain.UserProfile) {
	s.profiles.Set(profile.SubjectID, profile.Clone())
}

// Delete removes a record.
func (s *ProfileStore) Delete(subjectID string) bool {
	_, ok := s.profiles.Pop(subjectID)
	return ok
}

// Len returns the number of stored profiles.
func (s *ProfileStore) Len() int {
	return s.profiles.Count()
}

// Calls returns the number of reads and writes served.
func (s *ProfileStore) Calls() (reads, writes int64) {
	return s.reads.Load(), s.writes.Load()
}
