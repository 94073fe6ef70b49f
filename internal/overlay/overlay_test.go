package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func changed(a, b *image.RGBA, r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if a.RGBAAt(x, y) != b.RGBAAt(x, y) {
				return true
			}
		}
	}
	return false
}

func TestTimestampWidgetText(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	w, err := NewTimestampWidget("ts", func() time.Time { return at }, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-09 14:05:07", w.Text())
	assert.Equal(t, TypeTimestamp, w.Type())

	x, y := w.GetPosition()
	assert.Equal(t, 10, x)
	assert.Equal(t, 14, y)

	require.NoError(t, w.UpdateConfig(map[string]interface{}{"format": "15:04"}))
	assert.Equal(t, "14:05", w.Text())
	assert.Equal(t, "15:04", w.GetConfig()["format"])
}

func TestTextWidgetRendersInsideItsBox(t *testing.T) {
	w, err := NewTextWidget("label", map[string]interface{}{
		"text": "hi",
		"x":    float64(4),
		"y":    4,
	})
	require.NoError(t, err)

	before := blank(100, 60)
	after := blank(100, 60)
	require.NoError(t, w.Render(after))

	// 2 glyphs of 7px plus 5px padding each side, 13px line plus padding
	assert.True(t, changed(before, after, image.Rect(4, 4, 4+24, 4+23)))
	assert.False(t, changed(before, after, image.Rect(40, 30, 100, 60)))
}

func TestDisabledWidgetDrawsNothing(t *testing.T) {
	w, err := NewTextWidget("label", map[string]interface{}{"text": "hidden", "enabled": false})
	require.NoError(t, err)

	img := blank(80, 30)
	require.NoError(t, w.Render(img))
	assert.False(t, changed(blank(80, 30), img, img.Bounds()))
}

func TestStatsWidgetRequiresProvider(t *testing.T) {
	_, err := NewStatsWidget("stats", nil, nil)
	assert.Error(t, err)

	w, err := NewStatsWidget("stats", func() string { return "FPS: 29.97" }, nil)
	require.NoError(t, err)
	assert.Equal(t, "FPS: 29.97", w.Text())
}

func TestManagerLoadFromConfig(t *testing.T) {
	m := NewManager(nil, func() string { return "ok" })
	m.LoadFromConfig([]map[string]interface{}{
		{"type": "timestamp"},
		{"type": "text", "id": "label", "text": "Original | Processed"},
		{"type": "stats", "id": "stats"},
		{"type": "sparkles", "id": "bad"},
		{"id": "no-type"},
		{"type": "text", "id": "label"},
	})

	exported := m.ExportConfig()
	require.Len(t, exported, 3)
	assert.Equal(t, "timestamp", exported[0]["id"])
	assert.Equal(t, "label", exported[1]["id"])
	assert.Equal(t, "stats", exported[2]["id"])

	_, ok := m.GetWidget("label")
	assert.True(t, ok)
	require.NoError(t, m.RemoveWidget("label"))
	assert.Error(t, m.RemoveWidget("label"))
}

func TestManagerRenderRespectsEnabled(t *testing.T) {
	m := NewManager(func() time.Time { return time.Unix(0, 0).UTC() }, nil)
	w, err := m.CreateWidget(TypeTimestamp, "ts", nil)
	require.NoError(t, err)
	require.NoError(t, m.AddWidget(w))
	assert.Error(t, m.AddWidget(w))

	m.SetEnabled(false)
	img := blank(200, 40)
	m.Render(img)
	assert.False(t, changed(blank(200, 40), img, img.Bounds()))

	m.SetEnabled(true)
	m.Render(img)
	assert.True(t, changed(blank(200, 40), img, img.Bounds()))
}

func TestBlendImageClipsAndFades(t *testing.T) {
	dst := blank(4, 4)
	src := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	BlendImage(dst, src, 2, 2, 1.0)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, dst.RGBAAt(3, 3))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, dst.RGBAAt(1, 1))

	faded := blank(2, 2)
	BlendImage(faded, src, 0, 0, 0.5)
	px := faded.RGBAAt(0, 0)
	assert.InDelta(t, 127, int(px.R), 2)

	untouched := blank(2, 2)
	BlendImage(untouched, src, 10, 10, 1.0)
	assert.Equal(t, blank(2, 2).Pix, untouched.Pix)
}
