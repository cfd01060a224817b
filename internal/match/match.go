// Package match resolves a face embedding to an enrolled identity.
package match

import (
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/confidence"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// DefaultThreshold is the largest Euclidean distance accepted as the same person.
const DefaultThreshold = 0.45

// ErrInvalidInput is gallery.ErrInvalidInput, re-exported for callers of this package.
var ErrInvalidInput = gallery.ErrInvalidInput

// Nearest is the part of the gallery the resolver needs.
type Nearest interface {
	Nearest(query []float32) (gallery.Identity, float64, error)
}

// Result is the outcome of resolving one embedding.
type Result struct {
	Matched               bool              `json:"matched"`
	Identity              *gallery.Identity `json:"identity,omitempty"`
	Distance              float64           `json:"distance"`
	RecognitionConfidence float64           `json:"recognition_confidence"`
	DetectionConfidence   *float64          `json:"detection_confidence,omitempty"`
}

// Resolver applies the accept/reject threshold to the gallery's nearest neighbour.
type Resolver struct {
	gallery   Nearest
	threshold float64
}

// NewResolver creates a resolver. The threshold must lie strictly between 0 and 1.
func NewResolver(g Nearest, threshold float64) (*Resolver, error) {
	if !(threshold > 0 && threshold < 1) {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 1, got %v", ErrInvalidInput, threshold)
	}
	return &Resolver{gallery: g, threshold: threshold}, nil
}

// Threshold returns the configured acceptance distance.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve finds the closest identity and decides whether it is a match.
// Confidence is reported for rejections too. gallery.ErrEmptyGallery is returned
// unchanged so callers can tell "nobody enrolled" from "unknown face".
func (r *Resolver) Resolve(query []float32) (Result, error) {
	identity, distance, err := r.gallery.Nearest(query)
	if err != nil {
		return Result{}, fmt.Errorf("resolve embedding: %w", err)
	}

	result := Result{
		Distance:              distance,
		RecognitionConfidence: confidence.Confidence(distance, r.threshold),
	}
	if distance <= r.threshold {
		result.Matched = true
		result.Identity = &identity
	}
	return result, nil
}

// Confidence scores a distance against the resolver's threshold.
func (r *Resolver) Confidence(distance float64) float64 {
	return confidence.Confidence(distance, r.threshold)
}
