package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/match"
)

var (
	black = color.RGBA{0, 0, 0, 255}
	white = color.RGBA{255, 255, 255, 255}
	gray  = color.RGBA{128, 128, 128, 255}
)

// colorExtractor embeds a photo as the normalized RGB of its center pixel,
// so solid-color test photos stand in for faces.
type colorExtractor struct{}

func (colorExtractor) Embed(ctx context.Context, data []byte, bbox []float64) ([]float32, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	return []float32{float32(r>>8) / 255, float32(g>>8) / 255, float32(bl>>8) / 255}, nil
}

// fixedDetector reports one face in the middle of a 40x40 photo.
type fixedDetector struct{}

func (fixedDetector) Detect(ctx context.Context, data []byte) ([]attendance.Detection, error) {
	return []attendance.Detection{{BBox: []float64{10, 10, 30, 30}, Confidence: 0.9}}, nil
}

type testEnv struct {
	orchestrator *attendance.Orchestrator
	gallery      *gallery.Gallery
	ledger       *ledger.Ledger
	sessions     *memory.SessionStore
	clock        *clock.FakeClock
	log          *logrus.Logger
	limits       UploadLimits
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := clock.Fake(t0)
	g, err := gallery.New(memory.NewGalleryStore(), 3, clk)
	if err != nil {
		t.Fatalf("gallery.New: %v", err)
	}
	resolver := mustResolver(t, g)
	sessions := memory.NewSessionStore()
	l := ledger.New(sessions, ledger.Options{Cooldown: ledger.DefaultCooldown})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	o, err := attendance.New(g, resolver, l, colorExtractor{}, attendance.Options{
		Detector: fixedDetector{},
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("attendance.New: %v", err)
	}

	return &testEnv{
		orchestrator: o,
		gallery:      g,
		ledger:       l,
		sessions:     sessions,
		clock:        clk,
		log:          logger,
		limits:       UploadLimits{MaxBytes: 1 << 20, MaxImageSide: 1600},
	}
}

func mustResolver(t *testing.T, g *gallery.Gallery) *match.Resolver {
	t.Helper()
	r, err := match.NewResolver(g, match.DefaultThreshold)
	if err != nil {
		t.Fatalf("match.NewResolver: %v", err)
	}
	return r
}

// enroll adds an identity whose face is the given color.
func (e *testEnv) enroll(t *testing.T, name string, c color.Color) gallery.Identity {
	t.Helper()
	id, err := e.orchestrator.Enroll(context.Background(), name, solidJPEG(t, c))
	if err != nil {
		t.Fatalf("enroll %s: %v", name, err)
	}
	return id
}

func solidImage(c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := range 40 {
		for x := range 40 {
			img.Set(x, y, c)
		}
	}
	return img
}

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(c)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func solidJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(c), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST with the given file fields and form values.
func multipartRequest(t *testing.T, path string, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
