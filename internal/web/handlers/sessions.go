package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/ledger"
)

// defaultSessionLimit caps /sessions when no ?limit= is given.
const defaultSessionLimit = 100

// SessionsHandler handles the attendance log endpoint
type SessionsHandler struct {
	ledger *ledger.Ledger
	log    logrus.FieldLogger
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(l *ledger.Ledger, log logrus.FieldLogger) *SessionsHandler {
	return &SessionsHandler{ledger: l, log: log}
}

// List returns sessions of everyone, newest entry first. ?limit=0 returns all.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultSessionLimit)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	sessions, err := h.ledger.List(r.Context(), limit)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionList(sessions))
}
