package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*Ledger, *memory.SessionStore) {
	t.Helper()
	store := memory.NewSessionStore()
	return New(store, Options{Cooldown: DefaultCooldown}), store
}

func entry(person string, at time.Time) EntryRequest {
	return EntryRequest{PersonID: person, PersonName: "Person " + person, Now: at, RecognitionConfidence: 90}
}

func exit(person string, at time.Time) ExitRequest {
	return ExitRequest{PersonID: person, Now: at, RecognitionConfidence: 88}
}

func TestRecordEntry_Opens(t *testing.T) {
	l, store := newLedger(t)
	det := 0.97

	req := entry("001", t0)
	req.DetectionConfidence = &det
	s, err := l.RecordEntry(context.Background(), req)
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}
	if s.ID == "" {
		t.Error("expected generated session id")
	}
	if !s.IsOpen() || s.Duration != nil {
		t.Errorf("expected open session, got %+v", s)
	}
	if !s.EntryTime.Equal(t0) || s.PersonName != "Person 001" {
		t.Errorf("unexpected session %+v", s)
	}
	if s.DetectionConfidence == nil || *s.DetectionConfidence != 0.97 {
		t.Errorf("expected detection confidence 0.97, got %v", s.DetectionConfidence)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 stored session, got %d", store.Count())
	}
}

func TestRecordEntry_Cooldown(t *testing.T) {
	tests := []struct {
		name    string
		second  time.Duration
		wantErr error
	}{
		{"immediately", 0, ErrDuplicateEntry},
		{"30 minutes", 30 * time.Minute, ErrDuplicateEntry},
		{"just before cooldown", 2*time.Hour - time.Millisecond, ErrDuplicateEntry},
		{"exactly cooldown", 2 * time.Hour, nil},
		{"after cooldown", 3 * time.Hour, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, store := newLedger(t)
			ctx := context.Background()

			if _, err := l.RecordEntry(ctx, entry("001", t0)); err != nil {
				t.Fatalf("first entry: %v", err)
			}
			_, err := l.RecordEntry(ctx, entry("001", t0.Add(tc.second)))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			want := 1
			if tc.wantErr == nil {
				want = 2
			}
			if store.Count() != want {
				t.Errorf("expected %d sessions, got %d", want, store.Count())
			}
		})
	}
}

func TestRecordEntry_RejectionDetails(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	first, _ := l.RecordEntry(ctx, entry("001", t0))
	_, err := l.RecordEntry(ctx, entry("001", t0.Add(30*time.Minute)))

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *RejectedError, got %T", err)
	}
	if rejected.Latest == nil || rejected.Latest.ID != first.ID {
		t.Errorf("expected latest session %s, got %+v", first.ID, rejected.Latest)
	}
	if rejected.RetryAfter != 90*time.Minute {
		t.Errorf("expected retry after 90m, got %v", rejected.RetryAfter)
	}
}

func TestRecordEntry_DoubleEntryAllowed(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	if _, err := l.RecordEntry(ctx, entry("001", t0)); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	// Open session but outside the cooldown.
	if _, err := l.RecordEntry(ctx, entry("001", t0.Add(3*time.Hour))); err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if store.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", store.Count())
	}
}

func TestRecordEntry_RequireExitBeforeEntry(t *testing.T) {
	store := memory.NewSessionStore()
	l := New(store, Options{Cooldown: DefaultCooldown, RequireExitBeforeEntry: true})
	ctx := context.Background()

	if _, err := l.RecordEntry(ctx, entry("001", t0)); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	_, err := l.RecordEntry(ctx, entry("001", t0.Add(3*time.Hour)))
	if !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("expected ErrSessionOpen, got %v", err)
	}

	if _, err := l.RecordExit(ctx, exit("001", t0.Add(4*time.Hour))); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if _, err := l.RecordEntry(ctx, entry("001", t0.Add(5*time.Hour))); err != nil {
		t.Errorf("entry after exit: %v", err)
	}
}

func TestRecordExit_NoHistory(t *testing.T) {
	l, _ := newLedger(t)

	_, err := l.RecordExit(context.Background(), exit("001", t0))
	if !errors.Is(err, ErrNoOpenSession) {
		t.Errorf("expected ErrNoOpenSession, got %v", err)
	}
}

func TestRecordExit_Closes(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	opened, _ := l.RecordEntry(ctx, entry("001", t0))
	closed, err := l.RecordExit(ctx, exit("001", t0.Add(97*time.Minute+250*time.Millisecond)))
	if err != nil {
		t.Fatalf("RecordExit: %v", err)
	}
	if closed.ID != opened.ID {
		t.Errorf("expected session %s closed, got %s", opened.ID, closed.ID)
	}
	if closed.ExitTime == nil || closed.Duration == nil {
		t.Fatalf("expected exit fields, got %+v", closed)
	}
	if *closed.Duration != closed.ExitTime.Sub(closed.EntryTime) {
		t.Errorf("duration %v != exit - entry %v", *closed.Duration, closed.ExitTime.Sub(closed.EntryTime))
	}
	if closed.ExitRecognitionConfidence == nil || *closed.ExitRecognitionConfidence != 88 {
		t.Errorf("expected exit recognition confidence 88, got %v", closed.ExitRecognitionConfidence)
	}
}

func TestRecordExit_AfterClose(t *testing.T) {
	tests := []struct {
		name    string
		after   time.Duration
		wantErr error
	}{
		{"within exit cooldown", 5 * time.Minute, ErrDuplicateExit},
		{"after exit cooldown", 2 * time.Hour, ErrNoOpenSession},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := newLedger(t)
			ctx := context.Background()

			_, _ = l.RecordEntry(ctx, entry("001", t0))
			exitAt := t0.Add(time.Hour)
			if _, err := l.RecordExit(ctx, exit("001", exitAt)); err != nil {
				t.Fatalf("first exit: %v", err)
			}
			_, err := l.RecordExit(ctx, exit("001", exitAt.Add(tc.after)))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRecordExit_BeforeEntry(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, _ = l.RecordEntry(ctx, entry("001", t0))
	_, err := l.RecordExit(ctx, exit("001", t0.Add(-time.Minute)))

	var rejected *RejectedError
	if !errors.As(err, &rejected) || !errors.Is(err, ErrExitBeforeEntry) {
		t.Fatalf("expected ErrExitBeforeEntry rejection, got %v", err)
	}
	if rejected.Latest == nil || rejected.Latest.ExitTime != nil {
		t.Errorf("expected the open session to be reported, got %+v", rejected.Latest)
	}
	if rejected.RetryAfter != time.Minute {
		t.Errorf("expected retry after 1m, got %v", rejected.RetryAfter)
	}

	// The session stays open and closes once the clock catches up.
	closed, err := l.RecordExit(ctx, exit("001", t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if closed.ExitTime == nil {
		t.Error("expected closed session")
	}
}

func TestRecordExit_UsesLatestSession(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	_, _ = l.RecordEntry(ctx, entry("001", t0))
	second, _ := l.RecordEntry(ctx, entry("001", t0.Add(3*time.Hour)))

	closed, err := l.RecordExit(ctx, exit("001", t0.Add(4*time.Hour)))
	if err != nil {
		t.Fatalf("RecordExit: %v", err)
	}
	if closed.ID != second.ID {
		t.Errorf("expected latest session %s to close, got %s", second.ID, closed.ID)
	}

	sessions, _ := store.List(ctx, 0)
	open := 0
	for _, s := range sessions {
		if s.IsOpen() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("expected the older session to stay open, got %d open", open)
	}
}

func TestLedger_InvalidInput(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  EntryRequest
	}{
		{"empty person", EntryRequest{PersonID: " ", Now: t0}},
		{"zero time", EntryRequest{PersonID: "001"}},
		{"confidence above 100", EntryRequest{PersonID: "001", Now: t0, RecognitionConfidence: 101}},
		{"negative confidence", EntryRequest{PersonID: "001", Now: t0, RecognitionConfidence: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.RecordEntry(ctx, tc.req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if _, err := l.RecordExit(ctx, ExitRequest{Now: t0}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("exit: expected ErrInvalidInput, got %v", err)
	}
	if _, err := l.History(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("history: expected ErrInvalidInput, got %v", err)
	}
}

func TestLedger_PersistenceFailure(t *testing.T) {
	store := memory.NewSessionStore()
	l := New(store, Options{Cooldown: DefaultCooldown})
	ctx := context.Background()

	store.LatestError = errors.New("disk full")
	if _, err := l.RecordEntry(ctx, entry("001", t0)); !errors.Is(err, database.ErrPersistence) {
		t.Errorf("entry: expected ErrPersistence, got %v", err)
	}
	if _, err := l.RecordExit(ctx, exit("001", t0)); !errors.Is(err, database.ErrPersistence) {
		t.Errorf("exit: expected ErrPersistence, got %v", err)
	}

	store.LatestError = nil
	store.CreateError = errors.New("disk full")
	if _, err := l.RecordEntry(ctx, entry("001", t0)); !errors.Is(err, database.ErrPersistence) {
		t.Errorf("create: expected ErrPersistence, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected nothing stored, got %d", store.Count())
	}

	store.ListError = errors.New("disk full")
	if _, err := l.List(ctx, 0); !errors.Is(err, database.ErrPersistence) {
		t.Errorf("list: expected ErrPersistence, got %v", err)
	}
}

func TestLedger_Scenario(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	if _, err := l.RecordEntry(ctx, entry("A", t0)); err != nil {
		t.Fatalf("entry at t0: %v", err)
	}
	if _, err := l.RecordEntry(ctx, entry("A", t0.Add(30*time.Minute))); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("entry at t0+30m: expected ErrDuplicateEntry, got %v", err)
	}

	s, err := l.RecordExit(ctx, exit("A", t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("exit at t0+1h: %v", err)
	}
	if *s.Duration != time.Hour {
		t.Errorf("expected duration 1h, got %v", *s.Duration)
	}

	// Five minutes after the exit is still inside the exit cooldown.
	if _, err := l.RecordExit(ctx, exit("A", t0.Add(65*time.Minute))); !errors.Is(err, ErrDuplicateExit) {
		t.Errorf("exit at t0+1h5m: expected ErrDuplicateExit, got %v", err)
	}
	if _, err := l.RecordExit(ctx, exit("A", t0.Add(3*time.Hour+5*time.Minute))); !errors.Is(err, ErrNoOpenSession) {
		t.Errorf("exit at t0+3h5m: expected ErrNoOpenSession, got %v", err)
	}

	history, err := l.History(ctx, "A", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 session, got %d", len(history))
	}
}

func TestRecordExit_ConcurrentClosesOnce(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	if _, err := l.RecordEntry(ctx, entry("001", t0)); err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordExit(ctx, exit("001", t0.Add(time.Hour)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDuplicateExit):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || dupes != workers-1 {
		t.Errorf("expected 1 close and %d duplicates, got %d and %d", workers-1, succeeded, dupes)
	}
	if n := l.locks.size(); n != 0 {
		t.Errorf("expected lock table to drain, %d keys left", n)
	}
}

func TestRecordEntry_ConcurrentPeople(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	const people = 10
	var wg sync.WaitGroup
	errs := make(chan error, people*2)
	for i := 0; i < people; i++ {
		id := fmt.Sprintf("%03d", i+1)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.RecordEntry(ctx, entry(id, t0)); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)

	dupes := 0
	for err := range errs {
		if !errors.Is(err, ErrDuplicateEntry) {
			t.Errorf("unexpected error: %v", err)
		}
		dupes++
	}
	if dupes != people || store.Count() != people {
		t.Errorf("expected one session per person, got %d sessions and %d duplicates", store.Count(), dupes)
	}
}

func TestKeyedMutex_Serializes(t *testing.T) {
	var km keyedMutex
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100, got %d", counter)
	}
	if km.size() != 0 {
		t.Errorf("expected empty lock table, got %d", km.size())
	}
}
