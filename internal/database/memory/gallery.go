package memory

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// GalleryStore keeps the gallery snapshot in memory.
type GalleryStore struct {
	mu       sync.RWMutex
	snapshot database.GallerySnapshot
	saves    int

	// Error injection
	LoadError error
	SaveError error
}

// NewGalleryStore creates an empty gallery store
func NewGalleryStore() *GalleryStore {
	return &GalleryStore{}
}

// Load returns a copy of the stored snapshot
func (s *GalleryStore) Load(ctx context.Context) (database.GallerySnapshot, error) {
	if s.LoadError != nil {
		return database.GallerySnapshot{}, database.Persistence("load gallery", s.LoadError)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.snapshot), nil
}

// Save replaces the stored snapshot
func (s *GalleryStore) Save(ctx context.Context, snapshot database.GallerySnapshot) error {
	if s.SaveError != nil {
		return database.Persistence("save gallery", s.SaveError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = cloneSnapshot(snapshot)
	s.saves++
	return nil
}

// Update applies fn to the stored snapshot under the store lock
func (s *GalleryStore) Update(ctx context.Context, fn func(database.GallerySnapshot) (database.GallerySnapshot, error)) error {
	if s.LoadError != nil {
		return database.Persistence("load gallery", s.LoadError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(cloneSnapshot(s.snapshot))
	if err != nil {
		return err
	}
	if s.SaveError != nil {
		return database.Persistence("save gallery", s.SaveError)
	}
	s.snapshot = cloneSnapshot(next)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded
func (s *GalleryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func cloneSnapshot(in database.GallerySnapshot) database.GallerySnapshot {
	out := database.GallerySnapshot{Dim: in.Dim}
	if len(in.Identities) > 0 {
		out.Identities = make([]database.StoredIdentity, len(in.Identities))
		for i, id := range in.Identities {
			out.Identities[i] = cloneIdentity(id)
		}
	}
	return out
}
