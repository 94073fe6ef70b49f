// Package frame defines the unit of work that flows through the pipeline.
package frame

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one captured image tagged with its capture order.
// A frame must not be mutated once it has been handed to a queue.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Image      *image.RGBA
}

// Batch is an ordered group of frames in capture order.
type Batch []*Frame

// New wraps an image in a frame, converting it to RGBA when needed.
func New(seq uint64, capturedAt time.Time, img image.Image) *Frame {
	return &Frame{
		Seq:        seq,
		CapturedAt: capturedAt,
		Image:      ToRGBA(img),
	}
}

// ToRGBA returns img as *image.RGBA anchored at the origin.
// RGBA images already at the origin are returned as-is.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Clone returns a deep copy that shares no pixel memory with f.
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Image.Pix))
	copy(pix, f.Image.Pix)
	return &Frame{
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
		Image: &image.RGBA{
			Pix:    pix,
			Stride: f.Image.Stride,
			Rect:   f.Image.Rect,
		},
	}
}

// WithImage returns a frame carrying f's identity but a different image.
func (f *Frame) WithImage(img image.Image) *Frame {
	return New(f.Seq, f.CapturedAt, img)
}

// Seqs lists the sequence numbers of a batch, in order.
func (b Batch) Seqs() []uint64 {
	seqs := make([]uint64, len(b))
	for i, f := range b {
		seqs[i] = f.Seq
	}
	return seqs
}
