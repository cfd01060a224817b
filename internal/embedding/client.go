// Package embedding talks to the face embedding server. One /embed/face call
// returns every face in an image with its box, detection score and
// embedding, so the client serves as both detector and extractor.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const defaultEmbeddingURL = "http://localhost:8000"

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL string
	client  *http.Client
	cache   *responseCache
}

// NewClient creates a client. cacheSize is the number of image responses
// kept so that Detect followed by Embed on the same image costs one request;
// zero disables the cache.
func NewClient(baseURL string, cacheSize int) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		cache:   newResponseCache(cacheSize),
	}
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	key := hashImage(imageData)
	if resp, ok := c.cache.get(key); ok {
		return resp, nil
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.cache.put(key, &faceResp)
	return &faceResp, nil
}

// Detect returns the face regions in the image in server order.
func (c *Client) Detect(ctx context.Context, imageData []byte) ([]attendance.Detection, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	detections := make([]attendance.Detection, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if len(face.BBox) != 4 {
			continue
		}
		detections = append(detections, attendance.Detection{
			BBox:       append([]float64(nil), face.BBox...),
			Confidence: face.DetScore,
		})
	}
	return detections, nil
}

// Embed returns the embedding of the face that best overlaps bbox. With a nil
// bbox the face with the highest detection score is used. Returns nil when
// no face fits.
func (c *Client) Embed(ctx context.Context, imageData []byte, bbox []float64) ([]float32, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	face := pickFace(resp.Faces, bbox)
	if face == nil || len(face.Embedding) == 0 {
		return nil, nil
	}
	return append([]float32(nil), face.Embedding...), nil
}

func pickFace(faces []FaceDetection, bbox []float64) *FaceDetection {
	var best *FaceDetection
	var bestScore float64

	for i := range faces {
		var score float64
		if bbox == nil {
			score = faces[i].DetScore
		} else {
			score = facematch.ComputeIoU(bbox, faces[i].BBox)
			if score <= 0 {
				continue
			}
		}
		if best == nil || score > bestScore {
			best, bestScore = &faces[i], score
		}
	}
	return best
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
