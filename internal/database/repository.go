package database

import (
	"context"
)

// GalleryStore persists the identity gallery as one unit.
type GalleryStore interface {
	// Load returns the stored gallery, or an empty snapshot if nothing was saved yet
	Load(ctx context.Context) (GallerySnapshot, error)
	// Save replaces the stored gallery atomically. Readers never observe a partial write.
	Save(ctx context.Context, snapshot GallerySnapshot) error
	// Update loads the stored gallery, passes it to fn and saves what fn returns.
	// Other writers, in this process or another, are excluded until it returns.
	// An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, fn func(GallerySnapshot) (GallerySnapshot, error)) error
}

// SessionReader provides read-only access to attendance sessions
type SessionReader interface {
	// Latest returns the most recent session of a person by entry time, nil if none exists
	Latest(ctx context.Context, personID string) (*Session, error)
	// ListByPerson returns a person's sessions ordered by entry time descending.
	// A limit <= 0 returns all sessions.
	ListByPerson(ctx context.Context, personID string, limit int) ([]Session, error)
	// List returns all sessions ordered by entry time descending
	List(ctx context.Context, limit int) ([]Session, error)
}

// SessionStore provides write access to attendance sessions
type SessionStore interface {
	SessionReader

	// Create inserts a new open session
	Create(ctx context.Context, session Session) error

	// Close sets the exit fields of an open session and returns the updated row.
	// Returns ErrNotFound if the session does not exist or is already closed.
	Close(ctx context.Context, sessionID string, update SessionClose) (*Session, error)
}
