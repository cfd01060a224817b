// Package confidence maps a raw face distance to an interpretable 0-100 score.
package confidence

import "math"

// sharpenExponent controls how hard accepted scores are pushed away from the
// decision boundary.
const sharpenExponent = 0.2

// Confidence converts a Euclidean face distance into a score in [0, 100].
//
// Distances above the threshold use a linear mapping. Distances at or below
// the threshold (the boundary is accepted) are sharpened towards 100 so that
// accepted faces read as clearly accepted.
func Confidence(distance, threshold float64) float64 {
	if math.IsNaN(distance) || math.IsNaN(threshold) {
		return 0
	}

	accepted := distance <= threshold

	rng := 1 - threshold
	if rng <= 0 {
		// Threshold at or above 1 leaves the linear term undefined.
		if accepted {
			return 100
		}
		return 0
	}

	linear := clamp((1-distance)/(2*rng), 0, 1)
	if !accepted {
		return linear * 100
	}

	// The sharpening term is a fractional power and is only real for
	// linear >= 0.5. Below that the plain linear score is reported.
	if linear < 0.5 {
		return linear * 100
	}

	value := linear + (1-linear)*math.Pow((linear-0.5)*2, sharpenExponent)
	return clamp(value, 0, 1) * 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
