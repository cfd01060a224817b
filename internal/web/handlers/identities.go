package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
)

// Multipart fields of the enrollment form.
const (
	usernameField  = "username"
	faceImageField = "face_image"
)

// IdentitiesHandler handles gallery endpoints
type IdentitiesHandler struct {
	gallery      *gallery.Gallery
	orchestrator *attendance.Orchestrator
	ledger       *ledger.Ledger
	limits       UploadLimits
	log          logrus.FieldLogger
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(g *gallery.Gallery, o *attendance.Orchestrator, l *ledger.Ledger, limits UploadLimits, log logrus.FieldLogger) *IdentitiesHandler {
	return &IdentitiesHandler{
		gallery:      g,
		orchestrator: o,
		ledger:       l,
		limits:       limits,
		log:          log,
	}
}

// List returns enrolled identities in enrollment order. ?name= filters by
// name ignoring case and diacritics.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	var identities []gallery.Identity
	if name := r.URL.Query().Get("name"); name != "" {
		identities = h.gallery.FindByName(name)
	} else {
		identities = h.gallery.List()
	}
	if identities == nil {
		identities = []gallery.Identity{}
	}
	respondJSON(w, http.StatusOK, identities)
}

// Create enrolls the face in face_image under username
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	image, _, err := readPhoto(w, r, faceImageField, h.limits)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	name := strings.TrimSpace(r.FormValue(usernameField))
	if name == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	identity, err := h.orchestrator.Enroll(r.Context(), name, image)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"person_id": identity.ID,
		"name":      sanitizeForLog(identity.Name),
	}).Info("Enrolled via API")
	respondJSON(w, http.StatusCreated, identity)
}

// Get returns one identity with its latest session
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity, ok := h.gallery.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}

	resp := IdentityResponse{Identity: identity}
	latest, err := h.ledger.History(r.Context(), id, 1)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	if len(latest) > 0 {
		s := newSessionResponse(latest[0])
		resp.LastSession = &s
	}
	respondJSON(w, http.StatusOK, resp)
}

// Sessions returns the attendance history of one identity, newest first
func (h *IdentitiesHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.gallery.Get(id); !ok {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}

	limit, err := queryLimit(r, 0)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	sessions, err := h.ledger.History(r.Context(), id, limit)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionList(sessions))
}
