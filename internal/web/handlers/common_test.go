package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusCreated, map[string]int{"count": 42})

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")
	var result map[string]int
	parseJSONResponse(t, recorder, &result)
	if result["count"] != 42 {
		t.Errorf("expected count 42, got %v", result["count"])
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertContentType(t, recorder, "application/json")
	assertJSONError(t, recorder, "something went wrong")
}

func TestRespondEngineError(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"invalid input", fmt.Errorf("%w: name is required", gallery.ErrInvalidInput), http.StatusBadRequest, "invalid input: name is required"},
		{"no face", attendance.ErrNoFaceDetected, http.StatusUnprocessableEntity, "no face detected"},
		{"embedding failed", attendance.ErrEmbeddingFailed, http.StatusUnprocessableEntity, "face embedding failed"},
		{"empty gallery", gallery.ErrEmptyGallery, http.StatusConflict, "no identities enrolled"},
		{"wrapped empty gallery", fmt.Errorf("resolve embedding: %w", gallery.ErrEmptyGallery), http.StatusConflict, "no identities enrolled"},
		{"persistence", database.Persistence("create session", errors.New("disk full")), http.StatusServiceUnavailable, "storage temporarily unavailable"},
		{"collaborator", fmt.Errorf("detect faces: %w", errors.New("connection refused")), http.StatusBadGateway, "face service failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondEngineError(recorder, log, tt.err)

			assertStatusCode(t, recorder, tt.wantStatus)
			assertJSONError(t, recorder, tt.wantMsg)
			hasRetry := recorder.Header().Get("Retry-After") != ""
			if hasRetry != (tt.wantStatus == http.StatusServiceUnavailable) {
				t.Errorf("unexpected Retry-After header %q", recorder.Header().Get("Retry-After"))
			}
		})
	}
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 7, false},
		{"?limit=0", 0, false},
		{"?limit=25", 25, false},
		{"?limit=-3", 0, true},
		{"?limit=ten", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := queryLimit(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("queryLimit error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, gallery.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if got != tt.want {
				t.Errorf("queryLimit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("Alice\r\nFAKE ENTRY"); got != "AliceFAKE ENTRY" {
		t.Errorf("sanitizeForLog = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			HealthCheck(recorder, httptest.NewRequest(method, "/api/v1/health", nil))

			assertStatusCode(t, recorder, http.StatusOK)
			assertContentType(t, recorder, "application/json")
			if method == http.MethodGet {
				var result map[string]string
				parseJSONResponse(t, recorder, &result)
				if result["status"] != "ok" {
					t.Errorf("expected status 'ok', got '%s'", result["status"])
				}
			}
		})
	}
}
