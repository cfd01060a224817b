// Package attendance turns photos into attendance events: it detects a face,
// extracts its embedding, resolves it against the gallery and records the
// entry or exit in the ledger.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/match"
)

// Options holds the optional collaborators of an Orchestrator.
type Options struct {
	// Detector is optional. Without one the whole image is treated as a
	// single face region with no detection confidence.
	Detector Detector
	Clock    clock.Clock
	Logger   logrus.FieldLogger
}

// Orchestrator wires the gallery, resolver and ledger together.
type Orchestrator struct {
	gallery   *gallery.Gallery
	resolver  *match.Resolver
	ledger    *ledger.Ledger
	extractor Extractor
	detector  Detector
	clock     clock.Clock
	log       logrus.FieldLogger
}

// New creates an orchestrator.
func New(g *gallery.Gallery, r *match.Resolver, l *ledger.Ledger, extractor Extractor, opts Options) (*Orchestrator, error) {
	if g == nil || r == nil || l == nil {
		return nil, errors.New("gallery, resolver and ledger are required")
	}
	if extractor == nil {
		return nil, errors.New("embedding extractor is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		gallery:   g,
		resolver:  r,
		ledger:    l,
		extractor: extractor,
		detector:  opts.Detector,
		clock:     opts.Clock,
		log:       opts.Logger,
	}, nil
}

// HasDetector reports whether face detection runs before embedding.
func (o *Orchestrator) HasDetector() bool {
	return o.detector != nil
}

// Process records an entry or exit from a photo.
//
// Every expected result, including unknown faces and cooldown rejections, is
// reported through Outcome.Status. The error is non-nil only when a store or
// an external service failed.
func (o *Orchestrator) Process(ctx context.Context, image []byte, dir Direction) (Outcome, error) {
	if dir != DirectionEntry && dir != DirectionExit {
		return Outcome{}, fmt.Errorf("%w: unknown direction %q", gallery.ErrInvalidInput, dir)
	}
	out := Outcome{Direction: dir}

	det, embedding, status, err := o.locate(ctx, image)
	if err != nil {
		return out, err
	}
	out.Detection = det
	if status != "" {
		return o.finish(out, status, messageFor(status, "")), nil
	}

	result, err := o.resolver.Resolve(embedding)
	switch {
	case errors.Is(err, gallery.ErrEmptyGallery):
		return o.finish(out, StatusEmptyGallery, messageFor(StatusEmptyGallery, "")), nil
	case err != nil:
		o.log.WithError(err).Warn("Embedding rejected by resolver")
		return o.finish(out, StatusEmbeddingFailed, messageFor(StatusEmbeddingFailed, "")), nil
	}
	if det != nil {
		conf := det.Confidence
		result.DetectionConfidence = &conf
	}
	out.Match = &result

	if !result.Matched {
		return o.finish(out, StatusUnrecognized, messageFor(StatusUnrecognized, "")), nil
	}

	identity := result.Identity
	now := o.clock.Now()

	var session database.Session
	if dir == DirectionEntry {
		session, err = o.ledger.RecordEntry(ctx, ledger.EntryRequest{
			PersonID:              identity.ID,
			PersonName:            identity.Name,
			Now:                   now,
			DetectionConfidence:   result.DetectionConfidence,
			RecognitionConfidence: result.RecognitionConfidence,
		})
	} else {
		session, err = o.ledger.RecordExit(ctx, ledger.ExitRequest{
			PersonID:              identity.ID,
			Now:                   now,
			DetectionConfidence:   result.DetectionConfidence,
			RecognitionConfidence: result.RecognitionConfidence,
		})
	}

	var rejected *ledger.RejectedError
	switch {
	case errors.As(err, &rejected):
		status := rejectionStatus(rejected.Err)
		out.Session = rejected.Latest
		out.RetryAfter = rejected.RetryAfter
		msg := messageFor(status, identity.Name)
		if rejected.RetryAfter > 0 {
			msg = fmt.Sprintf("%s Try again in %s.", msg, formatWait(rejected.RetryAfter))
		}
		return o.finish(out, status, msg), nil
	case err != nil:
		return out, fmt.Errorf("record %s for %s: %w", dir, identity.ID, err)
	}

	out.Session = &session
	if dir == DirectionEntry {
		return o.finish(out, StatusEntryRecorded, messageFor(StatusEntryRecorded, identity.Name)), nil
	}
	msg := messageFor(StatusExitRecorded, identity.Name)
	if session.Duration != nil {
		msg = fmt.Sprintf("%s Time inside: %s.", msg, session.Duration.Round(time.Second))
	}
	return o.finish(out, StatusExitRecorded, msg), nil
}

// Enroll adds the face in image to the gallery under name.
func (o *Orchestrator) Enroll(ctx context.Context, name string, image []byte) (gallery.Identity, error) {
	if strings.TrimSpace(name) == "" {
		return gallery.Identity{}, fmt.Errorf("%w: name is required", gallery.ErrInvalidInput)
	}

	_, embedding, status, err := o.locate(ctx, image)
	if err != nil {
		return gallery.Identity{}, err
	}
	if status != "" {
		return gallery.Identity{}, statusErrors[status]
	}

	identity, err := o.gallery.Enroll(ctx, name, embedding)
	if err != nil {
		return gallery.Identity{}, err
	}
	o.log.WithFields(logrus.Fields{
		"person_id": identity.ID,
		"name":      identity.Name,
	}).Info("Identity enrolled")
	return identity, nil
}

// Identify resolves the face in image and returns up to k nearest identities.
// The ledger is not touched.
func (o *Orchestrator) Identify(ctx context.Context, image []byte, k int) (Identification, error) {
	det, embedding, status, err := o.locate(ctx, image)
	if err != nil {
		return Identification{}, err
	}
	if status != "" {
		return Identification{}, statusErrors[status]
	}

	result, err := o.resolver.Resolve(embedding)
	if err != nil {
		return Identification{}, err
	}
	if det != nil {
		conf := det.Confidence
		result.DetectionConfidence = &conf
	}

	candidates, err := o.gallery.Candidates(embedding, k)
	if err != nil {
		return Identification{}, err
	}
	return Identification{Detection: det, Match: result, Candidates: candidates}, nil
}

// locate runs detection and embedding. A non-empty status means the photo
// cannot be used; err is reserved for collaborator failures.
func (o *Orchestrator) locate(ctx context.Context, image []byte) (*Detection, []float32, Status, error) {
	if len(image) == 0 {
		return nil, nil, "", fmt.Errorf("%w: empty image", gallery.ErrInvalidInput)
	}

	var det *Detection
	if o.detector != nil {
		detections, err := o.detector.Detect(ctx, image)
		if err != nil {
			return nil, nil, "", fmt.Errorf("detect faces: %w", err)
		}
		det = bestDetection(detections)
		if det == nil {
			return nil, nil, StatusNoFaceDetected, nil
		}
	}

	var bbox []float64
	if det != nil {
		bbox = det.BBox
	}
	embedding, err := o.extractor.Embed(ctx, image, bbox)
	if err != nil {
		return det, nil, "", fmt.Errorf("extract embedding: %w", err)
	}
	if len(embedding) != o.gallery.Dim() || !database.ValidEmbedding(embedding) {
		if embedding != nil {
			o.log.WithFields(logrus.Fields{
				"got_dim":  len(embedding),
				"want_dim": o.gallery.Dim(),
			}).Warn("Unusable embedding from extractor")
		}
		return det, nil, StatusEmbeddingFailed, nil
	}
	return det, embedding, "", nil
}

func (o *Orchestrator) finish(out Outcome, status Status, message string) Outcome {
	out.Status = status
	out.Message = message

	fields := logrus.Fields{
		"direction": out.Direction,
		"status":    status,
	}
	if out.Match != nil {
		fields["distance"] = out.Match.Distance
		fields["confidence"] = out.Match.RecognitionConfidence
		if out.Match.Identity != nil {
			fields["person_id"] = out.Match.Identity.ID
		}
	}
	o.log.WithFields(fields).Info("Attendance photo processed")
	return out
}

// bestDetection returns the detection with the highest confidence, the first
// one on ties.
func bestDetection(detections []Detection) *Detection {
	var best *Detection
	for i := range detections {
		if best == nil || detections[i].Confidence > best.Confidence {
			best = &detections[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func rejectionStatus(err error) Status {
	switch {
	case errors.Is(err, ledger.ErrDuplicateEntry):
		return StatusDuplicateEntry
	case errors.Is(err, ledger.ErrDuplicateExit):
		return StatusDuplicateExit
	case errors.Is(err, ledger.ErrSessionOpen):
		return StatusSessionOpen
	case errors.Is(err, ledger.ErrExitBeforeEntry):
		return StatusExitBeforeEntry
	default:
		return StatusNoOpenSession
	}
}

func messageFor(status Status, name string) string {
	switch status {
	case StatusNoFaceDetected:
		return "No face detected."
	case StatusEmbeddingFailed:
		return "Could not read a face from the photo."
	case StatusEmptyGallery:
		return "No faces enrolled yet."
	case StatusUnrecognized:
		return "Face not recognized."
	case StatusEntryRecorded:
		return fmt.Sprintf("Entry photo taken for %s.", name)
	case StatusExitRecorded:
		return fmt.Sprintf("Exit photo taken for %s.", name)
	case StatusDuplicateEntry:
		return fmt.Sprintf("%s, entry was already recorded recently.", name)
	case StatusDuplicateExit:
		return fmt.Sprintf("%s, exit was already recorded recently.", name)
	case StatusNoOpenSession:
		return fmt.Sprintf("No open entry found for %s.", name)
	case StatusSessionOpen:
		return fmt.Sprintf("%s is already checked in.", name)
	case StatusExitBeforeEntry:
		return fmt.Sprintf("%s, exit time is earlier than the recorded entry.", name)
	}
	return string(status)
}

// formatWait renders a remaining cooldown rounded up to the minute.
func formatWait(d time.Duration) string {
	if d < time.Minute {
		return "1m"
	}
	d = (d + time.Minute - 1).Truncate(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
