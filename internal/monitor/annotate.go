package monitor

import (
	"math"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/detect"
)

const boxThickness = 2

var boxColor = [3]byte{0, 255, 0}

// Annotate returns a copy of frame with a rectangle drawn around each detection
func Annotate(frame *capture.Frame, detections []detect.Detection) *capture.Frame {
	out := frame.Clone()
	for _, d := range detections {
		x1 := clamp(int(math.Round(d.BBox[0])), 0, out.Width-1)
		y1 := clamp(int(math.Round(d.BBox[1])), 0, out.Height-1)
		x2 := clamp(int(math.Round(d.BBox[2])), 0, out.Width-1)
		y2 := clamp(int(math.Round(d.BBox[3])), 0, out.Height-1)
		if x2 < x1 || y2 < y1 {
			continue
		}
		for i := 0; i < boxThickness; i++ {
			hline(out, x1, x2, y1+i)
			hline(out, x1, x2, y2-i)
			vline(out, x1+i, y1, y2)
			vline(out, x2-i, y1, y2)
		}
	}
	return out
}

func hline(f *capture.Frame, x1, x2, y int) {
	if y < 0 || y >= f.Height {
		return
	}
	for x := x1; x <= x2; x++ {
		setPixel(f, x, y)
	}
}

func vline(f *capture.Frame, x, y1, y2 int) {
	if x < 0 || x >= f.Width {
		return
	}
	for y := y1; y <= y2; y++ {
		setPixel(f, x, y)
	}
}

func setPixel(f *capture.Frame, x, y int) {
	i := y*f.Stride() + x*f.Channels
	copy(f.Pix[i:i+3], boxColor[:])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
