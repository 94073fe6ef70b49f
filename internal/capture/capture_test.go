package capture

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternSourceEndOfStream(t *testing.T) {
	src := NewPatternSource(PatternConfig{Width: 14, Height: 2, FPS: 30, Frames: 3})
	require.NoError(t, src.Open())
	defer src.Release()

	assert.Equal(t, Geometry{Width: 14, Height: 2, FPS: 30}, src.Geometry())

	for want := uint64(0); want < 3; want++ {
		f, err := src.Read()
		require.NoError(t, err)
		assert.Equal(t, want, f.Seq)
		assert.Equal(t, 14, f.Width())
		assert.Equal(t, 2, f.Height())
	}

	_, err := src.Read()
	assert.True(t, errors.Is(err, ErrEndOfStream))
}

func TestPatternSourceMoves(t *testing.T) {
	src := NewPatternSource(PatternConfig{Width: 70, Height: 1, Frames: 2})
	require.NoError(t, src.Open())

	a, err := src.Read()
	require.NoError(t, err)
	b, err := src.Read()
	require.NoError(t, err)

	assert.NotEqual(t, a.Image.Pix, b.Image.Pix)
}

func TestPatternSourceReadBeforeOpen(t *testing.T) {
	src := NewPatternSource(PatternConfig{})
	_, err := src.Read()
	assert.Error(t, err)
}

func TestUnavailableWrapsSentinel(t *testing.T) {
	err := Unavailable("webcam", errors.New("no such device"))
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.Contains(t, err.Error(), "no such device")

	assert.True(t, errors.Is(Unavailable("webcam", nil), ErrDeviceUnavailable))
}

func TestConvertBGRX(t *testing.T) {
	data := []byte{
		1, 2, 3, 0, 10, 20, 30, 0,
	}
	img := convertBGRX(data, 2, 1)
	assert.Equal(t, color.RGBA{R: 3, G: 2, B: 1, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 255}, img.RGBAAt(1, 0))

	short := convertBGRX(data[:5], 2, 1)
	assert.Equal(t, color.RGBA{R: 3, G: 2, B: 1, A: 255}, short.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{}, short.RGBAAt(1, 0))
}

func TestParseClass(t *testing.T) {
	assert.Equal(t, "Firefox", parseClass("Navigator\x00Firefox\x00"))
	assert.Equal(t, "xterm", parseClass("xterm\x00\x00"))
	assert.Equal(t, "solo", parseClass("solo"))
}

func TestMatchWindow(t *testing.T) {
	windows := []Window{
		{ID: 1, Title: "Terminal", Class: "Alacritty"},
		{ID: 2, Title: "Meeting - Zoom", Class: "zoom"},
		{ID: 3, Title: "Zoom Settings", Class: "zoom"},
	}

	w, ok := MatchWindow(windows, "ZOOM")
	require.True(t, ok)
	assert.Equal(t, uint32(2), w.ID, "first match wins")

	w, ok = MatchWindow(windows, "alacritty")
	require.True(t, ok)
	assert.Equal(t, uint32(1), w.ID)

	_, ok = MatchWindow(windows, "browser")
	assert.False(t, ok)
}

func TestWindowBounds(t *testing.T) {
	w := Window{X: -10, Y: 20, Width: 100, Height: 50}
	assert.Equal(t, image.Rect(-10, 20, 90, 70), w.Bounds())
	assert.Equal(t, uint32(0x04030201), cardinal([]byte{1, 2, 3, 4}))
}
