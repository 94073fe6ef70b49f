package display

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/SplitView/internal/frame"
)

// Compose places original and processed side by side. The result is as
// tall as the taller input and as wide as both together; uncovered pixels
// are black and the original sits on the left.
func Compose(original, processed image.Image) *image.RGBA {
	ob := original.Bounds()
	pb := processed.Bounds()

	height := ob.Dy()
	if pb.Dy() > height {
		height = pb.Dy()
	}

	canvas := imaging.New(ob.Dx()+pb.Dx(), height, color.Black)
	canvas = imaging.Paste(canvas, original, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, processed, image.Pt(ob.Dx(), 0))

	return frame.ToRGBA(canvas)
}
