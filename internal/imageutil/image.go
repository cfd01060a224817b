// Package imageutil decodes uploaded photos and re-encodes them as JPEG of a
// bounded size before they are sent to the embedding server.
package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnreadableImage is returned when the upload is not a supported image.
var ErrUnreadableImage = errors.New("unreadable image")

const jpegQuality = 85

// Info describes a normalized image.
type Info struct {
	Format string // format of the input
	Width  int    // after resizing
	Height int
}

// Normalize decodes data (JPEG, PNG, GIF, BMP or WebP), scales it to fit
// within maxSide on both axes keeping the aspect ratio, and returns it as
// JPEG. A maxSide of zero or less keeps the original size.
func Normalize(data []byte, maxSide int) ([]byte, Info, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, Info{}, fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}

	out := img
	if maxSide > 0 && (width > maxSide || height > maxSide) {
		newWidth, newHeight := fitWithin(width, height, maxSide)
		resized := whiteCanvas(newWidth, newHeight)
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	} else if hasAlpha(img) {
		// JPEG has no alpha; flatten onto white instead of black.
		flat := whiteCanvas(width, height)
		draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Over)
		out = flat
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, Info{}, fmt.Errorf("failed to encode image: %w", err)
	}

	b := out.Bounds()
	return buf.Bytes(), Info{Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

func fitWithin(width, height, maxSide int) (int, int) {
	if width > height {
		return maxSide, max(1, int(float64(height)*float64(maxSide)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSide)/float64(height))), maxSide
}

func whiteCanvas(width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return canvas
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.Paletted:
		return true
	}
	return false
}
