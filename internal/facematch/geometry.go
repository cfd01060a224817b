// Package facematch holds helpers for comparing detected face boxes and
// person names.
package facematch

// BBoxArea returns the area of an [x1, y1, x2, y2] box, 0 for malformed boxes.
func BBoxArea(bbox []float64) float64 {
	if len(bbox) != 4 || bbox[2] <= bbox[0] || bbox[3] <= bbox[1] {
		return 0
	}
	return (bbox[2] - bbox[0]) * (bbox[3] - bbox[1])
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	intersection := BBoxArea([]float64{
		max(bbox1[0], bbox2[0]),
		max(bbox1[1], bbox2[1]),
		min(bbox1[2], bbox2[2]),
		min(bbox1[3], bbox2[3]),
	})
	if intersection == 0 {
		return 0
	}

	union := BBoxArea(bbox1) + BBoxArea(bbox2) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// RelativeBBox converts a pixel box to coordinates in [0, 1] of an image of
// the given size. Coordinates outside the image are clamped. Malformed input
// is returned unchanged.
func RelativeBBox(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	w, h := float64(width), float64(height)
	return []float64{
		clamp01(bbox[0] / w),
		clamp01(bbox[1] / h),
		clamp01(bbox[2] / w),
		clamp01(bbox[3] / h),
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
