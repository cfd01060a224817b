package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SessionStore keeps attendance sessions in memory
type SessionStore struct {
	mu       sync.RWMutex
	sessions []*database.Session // insertion order
	byID     map[string]*database.Session

	// Error injection
	LatestError error
	CreateError error
	CloseError  error
	ListError   error
}

// NewSessionStore creates an empty session store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID: make(map[string]*database.Session),
	}
}

// Latest returns the person's session with the latest entry time
func (s *SessionStore) Latest(ctx context.Context, personID string) (*database.Session, error) {
	if s.LatestError != nil {
		return nil, database.Persistence("latest session", s.LatestError)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *database.Session
	for _, sess := range s.sessions {
		if sess.PersonID != personID {
			continue
		}
		// Later inserts win ties.
		if latest == nil || !sess.EntryTime.Before(latest.EntryTime) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := cloneSession(*latest)
	return &out, nil
}

// Create inserts a new session
func (s *SessionStore) Create(ctx context.Context, session database.Session) error {
	if s.CreateError != nil {
		return database.Persistence("create session", s.CreateError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[session.ID]; exists {
		return fmt.Errorf("create session: duplicate id %s", session.ID)
	}
	stored := cloneSession(session)
	s.sessions = append(s.sessions, &stored)
	s.byID[stored.ID] = &stored
	return nil
}

// Close sets the exit fields on an open session
func (s *SessionStore) Close(ctx context.Context, sessionID string, update database.SessionClose) (*database.Session, error) {
	if s.CloseError != nil {
		return nil, database.Persistence("close session", s.CloseError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[sessionID]
	if !ok || !sess.IsOpen() {
		return nil, fmt.Errorf("close session %s: %w", sessionID, database.ErrNotFound)
	}

	exit := update.ExitTime
	duration := exit.Sub(sess.EntryTime)
	recognition := update.RecognitionConfidence
	sess.ExitTime = &exit
	sess.Duration = &duration
	sess.ExitDetectionConfidence = cloneFloat(update.DetectionConfidence)
	sess.ExitRecognitionConfidence = &recognition

	out := cloneSession(*sess)
	return &out, nil
}

// ListByPerson returns a person's sessions, newest entry first
func (s *SessionStore) ListByPerson(ctx context.Context, personID string, limit int) ([]database.Session, error) {
	if s.ListError != nil {
		return nil, database.Persistence("list sessions", s.ListError)
	}
	return s.list(func(sess *database.Session) bool { return sess.PersonID == personID }, limit), nil
}

// List returns all sessions, newest entry first
func (s *SessionStore) List(ctx context.Context, limit int) ([]database.Session, error) {
	if s.ListError != nil {
		return nil, database.Persistence("list sessions", s.ListError)
	}
	return s.list(func(*database.Session) bool { return true }, limit), nil
}

func (s *SessionStore) list(keep func(*database.Session) bool, limit int) []database.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]database.Session, 0, len(s.sessions))
	// Walk newest insert first so the stable sort keeps later inserts ahead on ties.
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if keep(s.sessions[i]) {
			result = append(result, cloneSession(*s.sessions[i]))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EntryTime.After(result[j].EntryTime)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Count returns the number of stored sessions
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
