package capture

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// EncodeJPEG encodes the frame as JPEG at the given quality
func EncodeJPEG(frame *Frame, quality int) ([]byte, error) {
	if frame == nil || len(frame.Pix) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.ToImage(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
