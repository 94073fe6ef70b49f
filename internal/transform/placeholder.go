package transform

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/SplitView/internal/frame"
)

// DefaultThreshold splits gray levels into black (<=) and white (>)
const DefaultThreshold uint8 = 127

// Placeholder converts each frame to grayscale and applies a binary
// threshold. The single-channel result is replicated to R, G and B so the
// output keeps the input's size and layout.
type Placeholder struct {
	threshold uint8
}

// NewPlaceholder creates the placeholder effect; zero means DefaultThreshold
func NewPlaceholder(threshold uint8) *Placeholder {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Placeholder{threshold: threshold}
}

// Transform implements Transform
func (p *Placeholder) Transform(batch frame.Batch) (frame.Batch, error) {
	out := make(frame.Batch, len(batch))
	for i, f := range batch {
		out[i] = f.WithImage(p.apply(f))
	}
	return out, nil
}

func (p *Placeholder) apply(f *frame.Frame) *image.NRGBA {
	gray := imaging.Grayscale(f.Image)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R > p.threshold {
			v = 255
		}
		return color.NRGBA{R: v, G: v, B: v, A: 255}
	})
}

// Name implements Transform
func (p *Placeholder) Name() string {
	return KindPlaceholder
}
