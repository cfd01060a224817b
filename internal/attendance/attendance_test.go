package attendance

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/match"
)

// fakeDetector returns canned detections.
type fakeDetector struct {
	detections []Detection
	err        error
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	return f.detections, f.err
}

// fakeExtractor maps the image bytes to an embedding.
type fakeExtractor struct {
	embeddings map[string][]float32
	err        error
	gotBBox    []float64
	calls      int
}

func (f *fakeExtractor) Embed(ctx context.Context, image []byte, bbox []float64) ([]float32, error) {
	f.calls++
	f.gotBBox = bbox
	if f.err != nil {
		return nil, f.err
	}
	return f.embeddings[string(image)], nil
}

type fixture struct {
	orch      *Orchestrator
	gallery   *gallery.Gallery
	sessions  *memory.SessionStore
	clock     *clock.FakeClock
	extractor *fakeExtractor
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, detector Detector) *fixture {
	t.Helper()

	clk := clock.Fake(t0)
	g, err := gallery.New(memory.NewGalleryStore(), 3, clk)
	if err != nil {
		t.Fatalf("gallery.New: %v", err)
	}
	r, err := match.NewResolver(g, match.DefaultThreshold)
	if err != nil {
		t.Fatalf("match.NewResolver: %v", err)
	}
	sessions := memory.NewSessionStore()
	l := ledger.New(sessions, ledger.Options{Cooldown: ledger.DefaultCooldown})

	extractor := &fakeExtractor{embeddings: map[string][]float32{
		"alice":   {0, 0, 0},
		"bob":     {1, 1, 1},
		"alice2":  {0.1, 0, 0},
		"unknown": {5, 5, 5},
		"short":   {1, 2},
	}}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	orch, err := New(g, r, l, extractor, Options{Detector: detector, Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{orch: orch, gallery: g, sessions: sessions, clock: clk, extractor: extractor}
}

func (f *fixture) enroll(t *testing.T, name, image string) gallery.Identity {
	t.Helper()
	id, err := f.orch.Enroll(context.Background(), name, []byte(image))
	if err != nil {
		t.Fatalf("Enroll(%s): %v", name, err)
	}
	return id
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, Options{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}

func TestProcess_EmptyGallery(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.orch.Process(context.Background(), []byte("alice"), DirectionEntry)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusEmptyGallery {
		t.Errorf("expected %s, got %s", StatusEmptyGallery, out.Status)
	}
	if !errors.Is(out.Err(), gallery.ErrEmptyGallery) {
		t.Errorf("expected ErrEmptyGallery from Err(), got %v", out.Err())
	}
}

func TestProcess_EntryAndExit(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.enroll(t, "Alice", "alice")
	ctx := context.Background()

	out, err := f.orch.Process(ctx, []byte("alice"), DirectionEntry)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if out.Status != StatusEntryRecorded || !out.Recorded() || out.Err() != nil {
		t.Fatalf("expected entry_recorded, got %+v", out)
	}
	if out.Session == nil || out.Session.PersonID != alice.ID || out.Session.PersonName != "Alice" {
		t.Errorf("unexpected session %+v", out.Session)
	}
	if out.Match == nil || out.Match.DetectionConfidence != nil {
		t.Errorf("expected no detection confidence without a detector, got %+v", out.Match)
	}
	if f.extractor.gotBBox != nil {
		t.Errorf("expected whole-image embedding, got bbox %v", f.extractor.gotBBox)
	}
	if out.Message != "Entry photo taken for Alice." {
		t.Errorf("unexpected message %q", out.Message)
	}

	f.clock.Advance(time.Hour)
	out, err = f.orch.Process(ctx, []byte("alice2"), DirectionExit)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if out.Status != StatusExitRecorded {
		t.Fatalf("expected exit_recorded, got %s", out.Status)
	}
	if out.Session.Duration == nil || *out.Session.Duration != time.Hour {
		t.Errorf("expected 1h duration, got %v", out.Session.Duration)
	}
}

func TestProcess_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t, "Alice", "alice")
	ctx := context.Background()

	out, _ := f.orch.Process(ctx, []byte("alice"), DirectionExit)
	if out.Status != StatusNoOpenSession {
		t.Errorf("exit without entry: expected %s, got %s", StatusNoOpenSession, out.Status)
	}

	_, _ = f.orch.Process(ctx, []byte("alice"), DirectionEntry)
	f.clock.Advance(30 * time.Minute)
	out, err := f.orch.Process(ctx, []byte("alice"), DirectionEntry)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusDuplicateEntry {
		t.Fatalf("expected %s, got %s", StatusDuplicateEntry, out.Status)
	}
	if out.RetryAfter != 90*time.Minute {
		t.Errorf("expected retry after 90m, got %v", out.RetryAfter)
	}
	if out.Message != "Alice, entry was already recorded recently. Try again in 1h30m." {
		t.Errorf("unexpected message %q", out.Message)
	}
	if f.sessions.Count() != 1 {
		t.Errorf("expected 1 session, got %d", f.sessions.Count())
	}

	f.clock.Advance(30 * time.Minute)
	_, _ = f.orch.Process(ctx, []byte("alice"), DirectionExit)
	f.clock.Advance(5 * time.Minute)
	out, _ = f.orch.Process(ctx, []byte("alice"), DirectionExit)
	if out.Status != StatusDuplicateExit || !errors.Is(out.Err(), ledger.ErrDuplicateExit) {
		t.Errorf("expected %s, got %s", StatusDuplicateExit, out.Status)
	}
}

func TestProcess_ClockSteppedBack(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t, "Alice", "alice")
	ctx := context.Background()

	if out, err := f.orch.Process(ctx, []byte("alice"), DirectionEntry); err != nil || out.Status != StatusEntryRecorded {
		t.Fatalf("entry: %+v, %v", out, err)
	}

	f.clock.Set(t0.Add(-10 * time.Minute))
	out, err := f.orch.Process(ctx, []byte("alice"), DirectionExit)
	if err != nil {
		t.Fatalf("expected an outcome, got error %v", err)
	}
	if out.Status != StatusExitBeforeEntry || !errors.Is(out.Err(), ledger.ErrExitBeforeEntry) {
		t.Errorf("expected %s, got %s", StatusExitBeforeEntry, out.Status)
	}
	if out.Session == nil || out.Session.ExitTime != nil {
		t.Errorf("expected the open session in the outcome, got %+v", out.Session)
	}
	if out.RetryAfter != 10*time.Minute {
		t.Errorf("expected retry after 10m, got %v", out.RetryAfter)
	}
}

func TestProcess_Unrecognized(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t, "Alice", "alice")

	out, err := f.orch.Process(context.Background(), []byte("unknown"), DirectionEntry)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusUnrecognized || !errors.Is(out.Err(), ErrUnrecognized) {
		t.Errorf("expected unrecognized, got %s", out.Status)
	}
	if out.Match == nil || out.Match.Matched || out.Match.RecognitionConfidence != 0 {
		t.Errorf("expected rejected match with confidence 0, got %+v", out.Match)
	}
	if f.sessions.Count() != 0 {
		t.Errorf("ledger must stay untouched, got %d sessions", f.sessions.Count())
	}
}

func TestProcess_EmbeddingFailed(t *testing.T) {
	tests := []struct {
		name  string
		image string
	}{
		{"no embedding", "blank"},
		{"wrong dimension", "short"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.enroll(t, "Alice", "alice")

			out, err := f.orch.Process(context.Background(), []byte(tc.image), DirectionEntry)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if out.Status != StatusEmbeddingFailed {
				t.Errorf("expected %s, got %s", StatusEmbeddingFailed, out.Status)
			}
		})
	}
}

func TestProcess_Detector(t *testing.T) {
	detector := &fakeDetector{detections: []Detection{
		{BBox: []float64{0, 0, 10, 10}, Confidence: 0.8},
		{BBox: []float64{20, 20, 40, 40}, Confidence: 0.95},
		{BBox: []float64{50, 50, 60, 60}, Confidence: 0.95},
	}}
	f := newFixture(t, detector)
	f.enroll(t, "Alice", "alice")

	out, err := f.orch.Process(context.Background(), []byte("alice"), DirectionEntry)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Detection == nil || out.Detection.BBox[0] != 20 {
		t.Fatalf("expected first highest-confidence detection, got %+v", out.Detection)
	}
	if f.extractor.gotBBox[0] != 20 {
		t.Errorf("expected extractor to receive the selected box, got %v", f.extractor.gotBBox)
	}
	if out.Session == nil || out.Session.DetectionConfidence == nil || *out.Session.DetectionConfidence != 0.95 {
		t.Errorf("expected detection confidence 0.95 on session, got %+v", out.Session)
	}
}

func TestProcess_NoFaceDetected(t *testing.T) {
	f := newFixture(t, &fakeDetector{})

	out, err := f.orch.Process(context.Background(), []byte("alice"), DirectionEntry)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusNoFaceDetected {
		t.Errorf("expected %s, got %s", StatusNoFaceDetected, out.Status)
	}
	if f.extractor.calls != 0 {
		t.Errorf("extractor should not run without a face, ran %d times", f.extractor.calls)
	}
}

func TestProcess_CollaboratorFailures(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, &fakeDetector{err: errors.New("connection refused")})
	if _, err := f.orch.Process(ctx, []byte("alice"), DirectionEntry); err == nil {
		t.Error("expected detector failure to be returned")
	}

	f = newFixture(t, nil)
	f.enroll(t, "Alice", "alice")
	f.extractor.err = errors.New("timeout")
	if _, err := f.orch.Process(ctx, []byte("alice"), DirectionEntry); err == nil {
		t.Error("expected extractor failure to be returned")
	}
}

func TestProcess_PersistenceFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t, "Alice", "alice")
	f.sessions.CreateError = errors.New("disk full")

	_, err := f.orch.Process(context.Background(), []byte("alice"), DirectionEntry)
	if !errors.Is(err, database.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestProcess_InvalidDirection(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.orch.Process(context.Background(), []byte("alice"), "sideways"); !errors.Is(err, gallery.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns ids", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.enroll(t, "Alice", "alice")
		b := f.enroll(t, "Bob", "bob")
		if a.ID != "001" || b.ID != "002" {
			t.Errorf("expected 001 and 002, got %s and %s", a.ID, b.ID)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.orch.Enroll(ctx, "  ", []byte("alice")); !errors.Is(err, gallery.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if f.extractor.calls != 0 {
			t.Error("extractor should not run for an invalid name")
		}
	})

	t.Run("no face", func(t *testing.T) {
		f := newFixture(t, &fakeDetector{})
		if _, err := f.orch.Enroll(ctx, "Alice", []byte("alice")); !errors.Is(err, ErrNoFaceDetected) {
			t.Errorf("expected ErrNoFaceDetected, got %v", err)
		}
	})

	t.Run("no embedding", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.orch.Enroll(ctx, "Alice", []byte("blank")); !errors.Is(err, ErrEmbeddingFailed) {
			t.Errorf("expected ErrEmbeddingFailed, got %v", err)
		}
		if f.gallery.Len() != 0 {
			t.Errorf("expected empty gallery, got %d", f.gallery.Len())
		}
	})
}

func TestIdentify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.orch.Identify(ctx, []byte("alice"), 3); !errors.Is(err, gallery.ErrEmptyGallery) {
		t.Errorf("expected ErrEmptyGallery, got %v", err)
	}

	f.enroll(t, "Alice", "alice")
	f.enroll(t, "Bob", "bob")

	res, err := f.orch.Identify(ctx, []byte("alice2"), 5)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Match.Matched || res.Match.Identity.Name != "Alice" {
		t.Errorf("expected match Alice, got %+v", res.Match)
	}
	if len(res.Candidates) != 2 || res.Candidates[0].Identity.Name != "Alice" {
		t.Errorf("expected Alice then Bob, got %+v", res.Candidates)
	}
	if f.sessions.Count() != 0 {
		t.Errorf("identify must not record sessions, got %d", f.sessions.Count())
	}
}

func TestFormatWait(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{10 * time.Second, "1m"},
		{5 * time.Minute, "5m"},
		{5*time.Minute + time.Second, "6m"},
		{90 * time.Minute, "1h30m"},
		{2 * time.Hour, "2h00m"},
	}
	for _, tc := range tests {
		if got := formatWait(tc.in); got != tc.want {
			t.Errorf("formatWait(%v) = %q; want %q", tc.in, got, tc.want)
		}
	}
}
