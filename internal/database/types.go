package database

import (
	"time"
)

// StoredIdentity represents an enrolled identity as persisted by a GalleryStore
type StoredIdentity struct {
	ID         string
	Name       string
	Embedding  []float32
	EnrolledAt time.Time
}

// GallerySnapshot is the whole gallery: identities in enrollment order.
// Stores load and save it as a unit.
type GallerySnapshot struct {
	Dim        int
	Identities []StoredIdentity
}

// Session represents one attendance session stored in the database
type Session struct {
	ID         string
	PersonID   string
	PersonName string
	EntryTime  time.Time
	ExitTime   *time.Time
	Duration   *time.Duration

	DetectionConfidence   *float64 // nil when no detector was involved
	RecognitionConfidence float64  // 0-100

	// Scores observed when the session was closed
	ExitDetectionConfidence   *float64
	ExitRecognitionConfidence *float64
}

// IsOpen reports whether the session is still waiting for an exit.
func (s *Session) IsOpen() bool {
	return s.ExitTime == nil
}

// SessionClose carries the fields written when a session is closed.
type SessionClose struct {
	ExitTime              time.Time
	DetectionConfidence   *float64
	RecognitionConfidence float64
}
