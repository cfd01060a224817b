// Package ledger keeps the per-person history of attendance sessions and
// enforces the entry/exit cooldown policy.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// DefaultCooldown is the minimum time between two transitions of the same kind.
const DefaultCooldown = 2 * time.Hour

var (
	ErrDuplicateEntry = errors.New("entry already recorded within cooldown")
	ErrDuplicateExit  = errors.New("exit already recorded within cooldown")
	ErrNoOpenSession  = errors.New("no open session")
	// ErrExitBeforeEntry is returned when the clock reads earlier than the
	// entry of the open session, e.g. after the wall clock stepped back.
	ErrExitBeforeEntry = errors.New("exit precedes entry")
	// ErrSessionOpen is only returned when Options.RequireExitBeforeEntry is set.
	ErrSessionOpen = errors.New("session already open")

	ErrInvalidInput = gallery.ErrInvalidInput
)

// RejectedError reports a transition refused by the session policy.
// It unwraps to one of the sentinel errors above.
type RejectedError struct {
	Err        error
	Latest     *database.Session // most recent session of the person, nil if none
	RetryAfter time.Duration     // remaining cooldown, zero when waiting does not help
}

func (e *RejectedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry in %v)", e.Err, e.RetryAfter.Round(time.Second))
	}
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Options tunes the session policy.
type Options struct {
	Cooldown time.Duration
	// RequireExitBeforeEntry refuses an entry while the latest session is open,
	// even after the cooldown has passed.
	RequireExitBeforeEntry bool
}

// EntryRequest describes an observed entry.
type EntryRequest struct {
	PersonID              string
	PersonName            string
	Now                   time.Time
	DetectionConfidence   *float64
	RecognitionConfidence float64
}

// ExitRequest describes an observed exit.
type ExitRequest struct {
	PersonID              string
	Now                   time.Time
	DetectionConfidence   *float64
	RecognitionConfidence float64
}

// Ledger is the only writer of attendance sessions. Transitions for the same
// person are serialized; different people proceed in parallel.
type Ledger struct {
	store database.SessionStore
	opts  Options
	locks keyedMutex
	newID func() string
}

// New creates a ledger over store. A zero cooldown disables deduplication.
func New(store database.SessionStore, opts Options) *Ledger {
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	return &Ledger{
		store: store,
		opts:  opts,
		newID: uuid.NewString,
	}
}

// Cooldown returns the configured cooldown window.
func (l *Ledger) Cooldown() time.Duration {
	return l.opts.Cooldown
}

// RecordEntry opens a new session unless the person's most recent session
// started less than the cooldown ago.
func (l *Ledger) RecordEntry(ctx context.Context, req EntryRequest) (database.Session, error) {
	if err := validate(req.PersonID, req.Now, req.RecognitionConfidence); err != nil {
		return database.Session{}, err
	}
	now := normalize(req.Now)

	unlock := l.locks.lock(req.PersonID)
	defer unlock()

	latest, err := l.store.Latest(ctx, req.PersonID)
	if err != nil {
		return database.Session{}, database.Persistence("record entry", err)
	}

	if latest != nil {
		if since := now.Sub(latest.EntryTime); since < l.opts.Cooldown {
			return database.Session{}, &RejectedError{
				Err:        ErrDuplicateEntry,
				Latest:     latest,
				RetryAfter: l.opts.Cooldown - since,
			}
		}
		if l.opts.RequireExitBeforeEntry && latest.IsOpen() {
			return database.Session{}, &RejectedError{Err: ErrSessionOpen, Latest: latest}
		}
	}

	session := database.Session{
		ID:                    l.newID(),
		PersonID:              req.PersonID,
		PersonName:            req.PersonName,
		EntryTime:             now,
		DetectionConfidence:   req.DetectionConfidence,
		RecognitionConfidence: req.RecognitionConfidence,
	}
	if err := l.store.Create(ctx, session); err != nil {
		return database.Session{}, database.Persistence("record entry", err)
	}
	return session, nil
}

// RecordExit closes the person's open session.
//
// The latest session by entry time decides the outcome: a recent exit is a
// duplicate, an older exit or no history means there is nothing to close.
func (l *Ledger) RecordExit(ctx context.Context, req ExitRequest) (database.Session, error) {
	if err := validate(req.PersonID, req.Now, req.RecognitionConfidence); err != nil {
		return database.Session{}, err
	}
	now := normalize(req.Now)

	unlock := l.locks.lock(req.PersonID)
	defer unlock()

	latest, err := l.store.Latest(ctx, req.PersonID)
	if err != nil {
		return database.Session{}, database.Persistence("record exit", err)
	}

	if latest == nil {
		return database.Session{}, &RejectedError{Err: ErrNoOpenSession}
	}
	if latest.ExitTime != nil {
		if since := now.Sub(*latest.ExitTime); since < l.opts.Cooldown {
			return database.Session{}, &RejectedError{
				Err:        ErrDuplicateExit,
				Latest:     latest,
				RetryAfter: l.opts.Cooldown - since,
			}
		}
		return database.Session{}, &RejectedError{Err: ErrNoOpenSession, Latest: latest}
	}

	if now.Before(latest.EntryTime) {
		return database.Session{}, &RejectedError{
			Err:        ErrExitBeforeEntry,
			Latest:     latest,
			RetryAfter: latest.EntryTime.Sub(now),
		}
	}

	closed, err := l.store.Close(ctx, latest.ID, database.SessionClose{
		ExitTime:              now,
		DetectionConfidence:   req.DetectionConfidence,
		RecognitionConfidence: req.RecognitionConfidence,
	})
	if errors.Is(err, database.ErrNotFound) {
		// Closed by another process between Latest and Close.
		return database.Session{}, &RejectedError{Err: ErrNoOpenSession, Latest: latest}
	}
	if err != nil {
		return database.Session{}, database.Persistence("record exit", err)
	}
	return *closed, nil
}

// History returns a person's sessions, newest entry first.
func (l *Ledger) History(ctx context.Context, personID string, limit int) ([]database.Session, error) {
	if strings.TrimSpace(personID) == "" {
		return nil, fmt.Errorf("%w: person id is required", ErrInvalidInput)
	}
	sessions, err := l.store.ListByPerson(ctx, personID, limit)
	if err != nil {
		return nil, database.Persistence("session history", err)
	}
	return sessions, nil
}

// List returns all sessions, newest entry first.
func (l *Ledger) List(ctx context.Context, limit int) ([]database.Session, error) {
	sessions, err := l.store.List(ctx, limit)
	if err != nil {
		return nil, database.Persistence("list sessions", err)
	}
	return sessions, nil
}

func validate(personID string, now time.Time, recognition float64) error {
	if strings.TrimSpace(personID) == "" {
		return fmt.Errorf("%w: person id is required", ErrInvalidInput)
	}
	if now.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}
	if math.IsNaN(recognition) || recognition < 0 || recognition > 100 {
		return fmt.Errorf("%w: recognition confidence %v outside [0, 100]", ErrInvalidInput, recognition)
	}
	return nil
}

// normalize keeps timestamps at the millisecond precision every store can hold.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
