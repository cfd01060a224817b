package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/imageutil"
)

// persistenceRetryAfter is the Retry-After value sent with 503 responses.
const persistenceRetryAfter = "5"

// UploadLimits bounds the photos accepted by upload endpoints.
type UploadLimits struct {
	MaxBytes     int64
	MaxImageSide int
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps an engine error to a status code. Unexpected errors
// are logged and answered with a generic message.
func respondEngineError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, gallery.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, attendance.ErrNoFaceDetected), errors.Is(err, attendance.ErrEmbeddingFailed):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gallery.ErrEmptyGallery):
		respondError(w, http.StatusConflict, gallery.ErrEmptyGallery.Error())
	case errors.Is(err, database.ErrPersistence):
		log.WithError(err).Error("Storage failure")
		w.Header().Set("Retry-After", persistenceRetryAfter)
		respondError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	default:
		log.WithError(err).Error("Request failed")
		respondError(w, http.StatusBadGateway, "face service failed")
	}
}

// readPhoto reads and normalizes the image uploaded under field.
func readPhoto(w http.ResponseWriter, r *http.Request, field string, limits UploadLimits) ([]byte, imageutil.Info, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes)
	if err := r.ParseMultipartForm(limits.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, imageutil.Info{}, fmt.Errorf("%w: upload exceeds %d bytes", gallery.ErrInvalidInput, limits.MaxBytes)
		}
		return nil, imageutil.Info{}, fmt.Errorf("%w: failed to parse multipart form", gallery.ErrInvalidInput)
	}

	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, imageutil.Info{}, fmt.Errorf("%w: %s is required", gallery.ErrInvalidInput, field)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, imageutil.Info{}, fmt.Errorf("%w: failed to read %s", gallery.ErrInvalidInput, field)
	}

	data, info, err := imageutil.Normalize(raw, limits.MaxImageSide)
	if err != nil {
		return nil, imageutil.Info{}, fmt.Errorf("%w: %w", gallery.ErrInvalidInput, err)
	}
	return data, info, nil
}

// queryLimit parses ?limit=, returning def when absent.
func queryLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", gallery.ErrInvalidInput)
	}
	return n, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
