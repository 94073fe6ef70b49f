package frame

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConvertsToRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 9, 8))
	src.SetNRGBA(5, 5, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	f := New(7, time.Unix(0, 0), src)

	require.NotNil(t, f.Image)
	assert.Equal(t, image.Rect(0, 0, 4, 3), f.Image.Bounds())
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, f.Image.RGBAAt(0, 0))
	assert.Equal(t, 4, f.Width())
	assert.Equal(t, 3, f.Height())
	assert.Equal(t, uint64(7), f.Seq)
}

func TestNewKeepsOriginRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	f := New(1, time.Now(), src)
	assert.Same(t, src, f.Image)
}

func TestCloneIsIndependent(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.SetRGBA(1, 1, color.RGBA{R: 200, A: 255})
	f := New(3, time.Now(), src)

	c := f.Clone()
	c.Image.SetRGBA(1, 1, color.RGBA{G: 99, A: 255})

	assert.Equal(t, f.Seq, c.Seq)
	assert.Equal(t, color.RGBA{R: 200, A: 255}, f.Image.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{G: 99, A: 255}, c.Image.RGBAAt(1, 1))
}

func TestBatchSeqs(t *testing.T) {
	b := Batch{
		{Seq: 4, Image: image.NewRGBA(image.Rect(0, 0, 1, 1))},
		{Seq: 5, Image: image.NewRGBA(image.Rect(0, 0, 1, 1))},
	}
	assert.Equal(t, []uint64{4, 5}, b.Seqs())
}
