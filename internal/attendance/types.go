package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/match"
)

var (
	ErrNoFaceDetected  = errors.New("no face detected")
	ErrEmbeddingFailed = errors.New("face embedding failed")
	ErrUnrecognized    = errors.New("face not recognized")
)

// Detection is one face region reported by a Detector.
type Detection struct {
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	Confidence float64   `json:"confidence"`
}

// Detector finds face regions in an encoded image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// Extractor computes the embedding of the face inside bbox.
// A nil bbox means the whole image. A nil embedding with a nil error means
// the region held nothing usable.
type Extractor interface {
	Embed(ctx context.Context, image []byte, bbox []float64) ([]float32, error)
}

// Direction selects which transition a photo records.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// Status is the result of processing one photo.
type Status string

const (
	StatusNoFaceDetected  Status = "no_face_detected"
	StatusEmbeddingFailed Status = "embedding_failed"
	StatusEmptyGallery    Status = "empty_gallery"
	StatusUnrecognized    Status = "unrecognized"
	StatusEntryRecorded   Status = "entry_recorded"
	StatusExitRecorded    Status = "exit_recorded"
	StatusDuplicateEntry  Status = "duplicate_entry"
	StatusDuplicateExit   Status = "duplicate_exit"
	StatusNoOpenSession   Status = "no_open_session"
	StatusSessionOpen     Status = "session_open"
	StatusExitBeforeEntry Status = "exit_before_entry"
)

// statusErrors maps every non-recorded status to its sentinel error.
var statusErrors = map[Status]error{
	StatusNoFaceDetected:  ErrNoFaceDetected,
	StatusEmbeddingFailed: ErrEmbeddingFailed,
	StatusEmptyGallery:    gallery.ErrEmptyGallery,
	StatusUnrecognized:    ErrUnrecognized,
	StatusDuplicateEntry:  ledger.ErrDuplicateEntry,
	StatusDuplicateExit:   ledger.ErrDuplicateExit,
	StatusNoOpenSession:   ledger.ErrNoOpenSession,
	StatusSessionOpen:     ledger.ErrSessionOpen,
	StatusExitBeforeEntry: ledger.ErrExitBeforeEntry,
}

// Outcome describes what happened to a photo. Everything except the status
// and message is optional and filled in as far as processing got.
type Outcome struct {
	Status    Status
	Message   string
	Direction Direction

	Detection  *Detection
	Match      *match.Result
	Session    *database.Session
	RetryAfter time.Duration
}

// Recorded reports whether the ledger accepted a transition.
func (o Outcome) Recorded() bool {
	return o.Status == StatusEntryRecorded || o.Status == StatusExitRecorded
}

// Err returns the sentinel error matching the status, nil for recorded transitions.
func (o Outcome) Err() error {
	return statusErrors[o.Status]
}

// Identification is a read-only lookup of a photo against the gallery.
type Identification struct {
	Detection  *Detection
	Match      match.Result
	Candidates []gallery.Candidate
}
