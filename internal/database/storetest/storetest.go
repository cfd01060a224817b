// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// baseTime is millisecond aligned so every backend can round-trip it exactly.
var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func floatPtr(f float64) *float64 { return &f }

func newSession(personID string, entry time.Time) database.Session {
	return database.Session{
		ID:                    uuid.NewString(),
		PersonID:              personID,
		PersonName:            "Person " + personID,
		EntryTime:             entry,
		DetectionConfidence:   floatPtr(0.98),
		RecognitionConfidence: 97.5,
	}
}

// RunSessionStoreTests exercises a SessionStore. newStore must return an empty store.
func RunSessionStoreTests(t *testing.T, newStore func(t *testing.T) database.SessionStore) {
	t.Run("LatestEmpty", func(t *testing.T) {
		store := newStore(t)
		got, err := store.Latest(context.Background(), "001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil session, got %+v", got)
		}
	})

	t.Run("CreateAndLatest", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := newSession("001", baseTime)
		second := newSession("001", baseTime.Add(3*time.Hour))
		second.DetectionConfidence = nil
		other := newSession("002", baseTime.Add(5*time.Hour))

		for _, s := range []database.Session{first, second, other} {
			if err := store.Create(ctx, s); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		got, err := store.Latest(ctx, "001")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if got == nil || got.ID != second.ID {
			t.Fatalf("expected latest %s, got %+v", second.ID, got)
		}
		if !got.EntryTime.Equal(second.EntryTime) {
			t.Errorf("expected entry %v, got %v", second.EntryTime, got.EntryTime)
		}
		if got.PersonName != "Person 001" {
			t.Errorf("expected person name to round-trip, got %q", got.PersonName)
		}
		if got.DetectionConfidence != nil {
			t.Errorf("expected nil detection confidence, got %v", *got.DetectionConfidence)
		}
		if got.RecognitionConfidence != 97.5 {
			t.Errorf("expected recognition 97.5, got %v", got.RecognitionConfidence)
		}
		if !got.IsOpen() || got.Duration != nil {
			t.Error("expected new session to be open without duration")
		}
	})

	t.Run("Close", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		s := newSession("001", baseTime)
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}

		exit := baseTime.Add(time.Hour + 30*time.Minute)
		closed, err := store.Close(ctx, s.ID, database.SessionClose{
			ExitTime:              exit,
			DetectionConfidence:   floatPtr(0.91),
			RecognitionConfidence: 88,
		})
		if err != nil {
			t.Fatalf("close: %v", err)
		}
		if closed.ExitTime == nil || !closed.ExitTime.Equal(exit) {
			t.Fatalf("expected exit %v, got %v", exit, closed.ExitTime)
		}
		if closed.Duration == nil || *closed.Duration != 90*time.Minute {
			t.Errorf("expected duration 90m, got %v", closed.Duration)
		}
		if closed.ExitRecognitionConfidence == nil || *closed.ExitRecognitionConfidence != 88 {
			t.Errorf("expected exit recognition 88, got %v", closed.ExitRecognitionConfidence)
		}
		if closed.ExitDetectionConfidence == nil || *closed.ExitDetectionConfidence != 0.91 {
			t.Errorf("expected exit detection 0.91, got %v", closed.ExitDetectionConfidence)
		}

		latest, err := store.Latest(ctx, "001")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if latest.IsOpen() || latest.Duration == nil || *latest.Duration != 90*time.Minute {
			t.Errorf("expected persisted close, got %+v", latest)
		}

		_, err = store.Close(ctx, s.ID, database.SessionClose{ExitTime: exit.Add(time.Hour)})
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound closing a closed session, got %v", err)
		}
	})

	t.Run("CloseMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Close(context.Background(), uuid.NewString(), database.SessionClose{ExitTime: baseTime})
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListOrdering", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var ids []string
		for i, person := range []string{"001", "002", "001", "003", "001"} {
			s := newSession(person, baseTime.Add(time.Duration(i)*time.Hour))
			ids = append(ids, s.ID)
			if err := store.Create(ctx, s); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		all, err := store.List(ctx, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected 5 sessions, got %d", len(all))
		}
		for i := range all {
			if all[i].ID != ids[len(ids)-1-i] {
				t.Errorf("position %d: expected %s, got %s", i, ids[len(ids)-1-i], all[i].ID)
			}
		}

		limited, err := store.List(ctx, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 sessions with limit, got %d", len(limited))
		}

		mine, err := store.ListByPerson(ctx, "001", 0)
		if err != nil {
			t.Fatalf("list by person: %v", err)
		}
		want := []string{ids[4], ids[2], ids[0]}
		if len(mine) != len(want) {
			t.Fatalf("expected %d sessions, got %d", len(want), len(mine))
		}
		for i := range want {
			if mine[i].ID != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], mine[i].ID)
			}
		}

		one, err := store.ListByPerson(ctx, "001", 1)
		if err != nil {
			t.Fatalf("list by person: %v", err)
		}
		if len(one) != 1 || one[0].ID != ids[4] {
			t.Errorf("expected newest session only, got %+v", one)
		}

		none, err := store.ListByPerson(ctx, "999", 0)
		if err != nil {
			t.Fatalf("list by person: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no sessions, got %d", len(none))
		}
	})
}

// RunGalleryStoreTests exercises a GalleryStore. newStore must return an empty store.
func RunGalleryStoreTests(t *testing.T, newStore func(t *testing.T) database.GalleryStore) {
	t.Run("LoadEmpty", func(t *testing.T) {
		store := newStore(t)
		snap, err := store.Load(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(snap.Identities) != 0 {
			t.Errorf("expected empty gallery, got %d identities", len(snap.Identities))
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		snap := database.GallerySnapshot{
			Dim: 3,
			Identities: []database.StoredIdentity{
				{ID: "001", Name: "Ada", Embedding: []float32{0.1, -0.25, 0.5}, EnrolledAt: baseTime},
				{ID: "002", Name: "Jiří", Embedding: []float32{1, 0, -1}, EnrolledAt: baseTime.Add(time.Minute)},
			},
		}
		if err := store.Save(ctx, snap); err != nil {
			t.Fatalf("save: %v", err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		assertSnapshot(t, snap, got)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		one := database.GallerySnapshot{
			Dim:        2,
			Identities: []database.StoredIdentity{{ID: "001", Name: "A", Embedding: []float32{1, 2}, EnrolledAt: baseTime}},
		}
		two := database.GallerySnapshot{
			Dim: 2,
			Identities: []database.StoredIdentity{
				one.Identities[0],
				{ID: "002", Name: "B", Embedding: []float32{3, 4}, EnrolledAt: baseTime.Add(time.Hour)},
			},
		}
		if err := store.Save(ctx, one); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Save(ctx, two); err != nil {
			t.Fatalf("save: %v", err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		assertSnapshot(t, two, got)
	})

	t.Run("UpdateAppends", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := database.StoredIdentity{ID: "001", Name: "A", Embedding: []float32{1, 2}, EnrolledAt: baseTime}
		second := database.StoredIdentity{ID: "002", Name: "B", Embedding: []float32{3, 4}, EnrolledAt: baseTime.Add(time.Hour)}
		if err := store.Save(ctx, database.GallerySnapshot{Dim: 2, Identities: []database.StoredIdentity{first}}); err != nil {
			t.Fatalf("save: %v", err)
		}

		err := store.Update(ctx, func(cur database.GallerySnapshot) (database.GallerySnapshot, error) {
			if len(cur.Identities) != 1 || cur.Identities[0].ID != "001" {
				t.Errorf("expected stored identity 001 passed to update, got %+v", cur.Identities)
			}
			cur.Identities = append(cur.Identities, second)
			return cur, nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		assertSnapshot(t, database.GallerySnapshot{Dim: 2, Identities: []database.StoredIdentity{first, second}}, got)
	})

	t.Run("UpdateAbortsOnError", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		want := database.GallerySnapshot{
			Dim:        2,
			Identities: []database.StoredIdentity{{ID: "001", Name: "A", Embedding: []float32{1, 2}, EnrolledAt: baseTime}},
		}
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("save: %v", err)
		}

		errStop := errors.New("stop")
		err := store.Update(ctx, func(cur database.GallerySnapshot) (database.GallerySnapshot, error) {
			return database.GallerySnapshot{Dim: 2}, errStop
		})
		if !errors.Is(err, errStop) {
			t.Fatalf("expected fn error, got %v", err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		assertSnapshot(t, want, got)
	})
}

// RunSharedGalleryTests checks that two handles on the same stored gallery,
// as held by two processes, never lose each other's updates.
// newPair must return two stores backed by one empty gallery.
func RunSharedGalleryTests(t *testing.T, newPair func(t *testing.T) (database.GalleryStore, database.GalleryStore)) {
	a, b := newPair(t)
	ctx := context.Background()

	const perStore = 10
	var wg sync.WaitGroup
	for _, store := range []database.GalleryStore{a, b} {
		wg.Add(1)
		go func(store database.GalleryStore) {
			defer wg.Done()
			for range perStore {
				err := store.Update(ctx, func(cur database.GallerySnapshot) (database.GallerySnapshot, error) {
					cur.Dim = 2
					cur.Identities = append(cur.Identities, database.StoredIdentity{
						ID:         fmt.Sprintf("%03d", len(cur.Identities)+1),
						Name:       "p",
						Embedding:  []float32{1, 2},
						EnrolledAt: baseTime,
					})
					return cur, nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}(store)
	}
	wg.Wait()

	got, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Identities) != 2*perStore {
		t.Fatalf("expected %d identities, got %d", 2*perStore, len(got.Identities))
	}
	seen := make(map[string]bool)
	for _, id := range got.Identities {
		if seen[id.ID] {
			t.Errorf("duplicate id %s", id.ID)
		}
		seen[id.ID] = true
	}
}

func assertSnapshot(t *testing.T, want, got database.GallerySnapshot) {
	t.Helper()
	if got.Dim != want.Dim {
		t.Errorf("expected dim %d, got %d", want.Dim, got.Dim)
	}
	if len(got.Identities) != len(want.Identities) {
		t.Fatalf("expected %d identities, got %d", len(want.Identities), len(got.Identities))
	}
	for i := range want.Identities {
		w, g := want.Identities[i], got.Identities[i]
		if g.ID != w.ID || g.Name != w.Name {
			t.Errorf("identity %d: expected %s/%s, got %s/%s", i, w.ID, w.Name, g.ID, g.Name)
		}
		if !g.EnrolledAt.Equal(w.EnrolledAt) {
			t.Errorf("identity %d: expected enrolled_at %v, got %v", i, w.EnrolledAt, g.EnrolledAt)
		}
		if len(g.Embedding) != len(w.Embedding) {
			t.Fatalf("identity %d: expected embedding len %d, got %d", i, len(w.Embedding), len(g.Embedding))
		}
		for j := range w.Embedding {
			if g.Embedding[j] != w.Embedding[j] {
				t.Errorf("identity %d component %d: expected %v, got %v", i, j, w.Embedding[j], g.Embedding[j])
			}
		}
	}
}
