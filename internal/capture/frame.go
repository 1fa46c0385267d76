package capture

import (
	"image"
	"image/color"
	"time"
)

// Frame is a packed RGB24 pixel buffer read from a source.
// A frame handed across goroutines is never written to again.
type Frame struct {
	Width     int
	Height    int
	Channels  int
	Pix       []byte
	Timestamp time.Time
}

// NewFrame allocates a black RGB24 frame
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Channels:  3,
		Pix:       make([]byte, width*height*3),
		Timestamp: time.Now(),
	}
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{
		Width:     f.Width,
		Height:    f.Height,
		Channels:  f.Channels,
		Pix:       pix,
		Timestamp: f.Timestamp,
	}
}

// Stride returns the number of bytes per row
func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

// ToImage converts the frame into an image.RGBA
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	stride := f.Stride()
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*stride : (y+1)*stride]
		for x := 0; x < f.Width; x++ {
			i := x * f.Channels
			o := img.PixOffset(x, y)
			img.Pix[o] = row[i]
			if f.Channels >= 3 {
				img.Pix[o+1] = row[i+1]
				img.Pix[o+2] = row[i+2]
			} else {
				img.Pix[o+1] = row[i]
				img.Pix[o+2] = row[i]
			}
			img.Pix[o+3] = 0xff
		}
	}
	return img
}

// FrameFromImage copies any image into a new RGB24 frame
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			i := y*f.Stride() + x*3
			f.Pix[i] = c.R
			f.Pix[i+1] = c.G
			f.Pix[i+2] = c.B
		}
	}
	return f
}
