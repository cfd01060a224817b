package handlers

import (
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/imageutil"
	"github.com/kozaktomas/face-attendance/internal/match"
)

// SessionResponse represents an attendance session in API responses
type SessionResponse struct {
	ID                        string     `json:"id"`
	PersonID                  string     `json:"person_id"`
	PersonName                string     `json:"person_name"`
	EntryTime                 time.Time  `json:"entry_time"`
	ExitTime                  *time.Time `json:"exit_time,omitempty"`
	DurationSeconds           *float64   `json:"duration_seconds,omitempty"`
	Open                      bool       `json:"open"`
	DetectionConfidence       *float64   `json:"detection_confidence,omitempty"`
	RecognitionConfidence     float64    `json:"recognition_confidence"`
	ExitDetectionConfidence   *float64   `json:"exit_detection_confidence,omitempty"`
	ExitRecognitionConfidence *float64   `json:"exit_recognition_confidence,omitempty"`
}

func newSessionResponse(s database.Session) SessionResponse {
	resp := SessionResponse{
		ID:                        s.ID,
		PersonID:                  s.PersonID,
		PersonName:                s.PersonName,
		EntryTime:                 s.EntryTime,
		ExitTime:                  s.ExitTime,
		Open:                      s.IsOpen(),
		DetectionConfidence:       s.DetectionConfidence,
		RecognitionConfidence:     s.RecognitionConfidence,
		ExitDetectionConfidence:   s.ExitDetectionConfidence,
		ExitRecognitionConfidence: s.ExitRecognitionConfidence,
	}
	if s.Duration != nil {
		secs := s.Duration.Seconds()
		resp.DurationSeconds = &secs
	}
	return resp
}

func newSessionList(sessions []database.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionResponse(s))
	}
	return out
}

// DetectionResponse is a detected face box, in pixels of the normalized
// photo and relative to its size.
type DetectionResponse struct {
	BBox         []float64 `json:"bbox"`
	BBoxRelative []float64 `json:"bbox_relative"`
	Confidence   float64   `json:"confidence"`
}

func newDetectionResponse(d *attendance.Detection, info imageutil.Info) *DetectionResponse {
	if d == nil {
		return nil
	}
	return &DetectionResponse{
		BBox:         d.BBox,
		BBoxRelative: facematch.RelativeBBox(d.BBox, info.Width, info.Height),
		Confidence:   d.Confidence,
	}
}

// OutcomeResponse is the result of an entry or exit photo.
type OutcomeResponse struct {
	Status            attendance.Status    `json:"status"`
	Message           string               `json:"message"`
	Direction         attendance.Direction `json:"direction"`
	Recorded          bool                 `json:"recorded"`
	Detection         *DetectionResponse   `json:"detection,omitempty"`
	Match             *match.Result        `json:"match,omitempty"`
	Session           *SessionResponse     `json:"session,omitempty"`
	RetryAfterSeconds int64                `json:"retry_after_seconds,omitempty"`
}

func newOutcomeResponse(out attendance.Outcome, info imageutil.Info) OutcomeResponse {
	resp := OutcomeResponse{
		Status:    out.Status,
		Message:   out.Message,
		Direction: out.Direction,
		Recorded:  out.Recorded(),
		Detection: newDetectionResponse(out.Detection, info),
		Match:     out.Match,
	}
	if out.Session != nil {
		s := newSessionResponse(*out.Session)
		resp.Session = &s
	}
	if out.RetryAfter > 0 {
		resp.RetryAfterSeconds = int64((out.RetryAfter + time.Second - 1) / time.Second)
	}
	return resp
}

// IdentifyResponse is a read-only lookup result.
type IdentifyResponse struct {
	Detection  *DetectionResponse  `json:"detection,omitempty"`
	Match      match.Result        `json:"match"`
	Candidates []gallery.Candidate `json:"candidates"`
}

// IdentityResponse is an enrolled identity with its attendance state.
type IdentityResponse struct {
	gallery.Identity
	LastSession *SessionResponse `json:"last_session,omitempty"`
}
