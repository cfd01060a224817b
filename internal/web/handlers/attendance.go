package handlers

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// photoField is the multipart field carrying attendance photos.
const photoField = "photo"

// AttendanceHandler handles entry, exit and identify uploads
type AttendanceHandler struct {
	orchestrator   *attendance.Orchestrator
	limits         UploadLimits
	candidateLimit int
	log            logrus.FieldLogger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(o *attendance.Orchestrator, limits UploadLimits, candidateLimit int, log logrus.FieldLogger) *AttendanceHandler {
	return &AttendanceHandler{
		orchestrator:   o,
		limits:         limits,
		candidateLimit: candidateLimit,
		log:            log,
	}
}

// Entry records an entry from the uploaded photo
func (h *AttendanceHandler) Entry(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, attendance.DirectionEntry)
}

// Exit records an exit from the uploaded photo
func (h *AttendanceHandler) Exit(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, attendance.DirectionExit)
}

func (h *AttendanceHandler) process(w http.ResponseWriter, r *http.Request, dir attendance.Direction) {
	image, info, err := readPhoto(w, r, photoField, h.limits)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	out, err := h.orchestrator.Process(r.Context(), image, dir)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	resp := newOutcomeResponse(out, info)
	if resp.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfterSeconds, 10))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Identify matches the uploaded photo against the gallery without recording anything
func (h *AttendanceHandler) Identify(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, h.candidateLimit)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	image, info, err := readPhoto(w, r, photoField, h.limits)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	ident, err := h.orchestrator.Identify(r.Context(), image, limit)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	candidates := ident.Candidates
	if candidates == nil {
		candidates = []gallery.Candidate{}
	}
	respondJSON(w, http.StatusOK, IdentifyResponse{
		Detection:  newDetectionResponse(ident.Detection, info),
		Match:      ident.Match,
		Candidates: candidates,
	})
}
