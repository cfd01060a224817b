package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func TestSessionsHandler_List(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.ledger, env.log)

	t.Run("empty", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		if got := recorder.Body.String(); got != "[]\n" {
			t.Errorf("expected [], got %q", got)
		}
	})

	env.enroll(t, "Alice", black)
	env.enroll(t, "Bob", white)
	ctx := context.Background()
	for _, face := range [][]byte{solidJPEG(t, black), solidJPEG(t, white)} {
		if _, err := env.orchestrator.Process(ctx, face, attendance.DirectionEntry); err != nil {
			t.Fatalf("process: %v", err)
		}
		env.clock.Advance(time.Minute)
	}

	t.Run("newest first", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

		var sessions []SessionResponse
		parseJSONResponse(t, recorder, &sessions)
		if len(sessions) != 2 {
			t.Fatalf("expected 2 sessions, got %d", len(sessions))
		}
		if sessions[0].PersonName != "Bob" || sessions[1].PersonName != "Alice" {
			t.Errorf("unexpected order: %s, %s", sessions[0].PersonName, sessions[1].PersonName)
		}
		if !sessions[0].Open || sessions[0].ExitTime != nil {
			t.Errorf("expected open session, got %+v", sessions[0])
		}
	})

	t.Run("limit", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=1", nil))

		var sessions []SessionResponse
		parseJSONResponse(t, recorder, &sessions)
		if len(sessions) != 1 || sessions[0].PersonName != "Bob" {
			t.Errorf("expected only Bob, got %+v", sessions)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		env.sessions.ListError = errors.New("connection reset")
		defer func() { env.sessions.ListError = nil }()

		recorder := httptest.NewRecorder()
		handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

		assertStatusCode(t, recorder, http.StatusServiceUnavailable)
		if recorder.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
	})
}
