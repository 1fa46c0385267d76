package analysis

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
)

// Encoder turns a frame into the image payload sent to a backend
type Encoder func(frame *capture.Frame) ([]byte, error)

// Letterbox scales img to fit a size x size canvas, preserving aspect ratio,
// and centres it on black padding.
func Letterbox(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	scale := float64(size) / float64(w)
	if s := float64(size) / float64(h); s < scale {
		scale = s
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	x := (size - newW) / 2
	y := (size - newH) / 2
	draw.CatmullRom.Scale(dst, image.Rect(x, y, x+newW, y+newH), img, b, draw.Src, nil)
	return dst
}

// LetterboxJPEG returns an Encoder producing a size x size letterboxed JPEG.
// The output is byte-identical for identical frames and settings.
func LetterboxJPEG(size, quality int) Encoder {
	return func(frame *capture.Frame) ([]byte, error) {
		if frame == nil || len(frame.Pix) == 0 {
			return nil, fmt.Errorf("empty frame")
		}

		canvas := Letterbox(frame.ToImage(), size)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil
	}
}
