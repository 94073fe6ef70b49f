package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Widget types understood by Manager.CreateWidget
const (
	TypeText      = "text"
	TypeTimestamp = "timestamp"
	TypeStats     = "stats"
)

// DefaultTimestampFormat matches "2006-01-02 15:04:05"
const DefaultTimestampFormat = "2006-01-02 15:04:05"

// TextWidget draws a line of text. The text is either fixed or produced by
// a function on every render.
type TextWidget struct {
	*BaseWidget
	widgetType string
	mu         sync.RWMutex
	text       string
	textFunc   func() string
	textColor  color.RGBA
	bgColor    *color.RGBA // Optional background color
	padding    int
}

// NewTextWidget creates a fixed-text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := newTextWidget(id, TypeText)
	w.text = "Text Widget"
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// NewTimestampWidget creates a widget showing the wall clock. The "format"
// key takes a Go time layout.
func NewTimestampWidget(id string, clock func() time.Time, config map[string]interface{}) (*TextWidget, error) {
	if clock == nil {
		clock = time.Now
	}
	w := newTextWidget(id, TypeTimestamp)
	w.SetPosition(10, 14)
	layout := DefaultTimestampFormat
	if f, ok := config["format"].(string); ok && f != "" {
		layout = f
	}
	w.text = layout
	w.textFunc = func() string {
		w.mu.RLock()
		l := w.text
		w.mu.RUnlock()
		return clock().Format(l)
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// NewStatsWidget creates a widget whose text comes from provider
func NewStatsWidget(id string, provider func() string, config map[string]interface{}) (*TextWidget, error) {
	if provider == nil {
		return nil, fmt.Errorf("stats widget %s requires a provider", id)
	}
	w := newTextWidget(id, TypeStats)
	w.SetPosition(10, 40)
	bg := color.RGBA{0, 0, 0, 160}
	w.bgColor = &bg
	w.textFunc = provider
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

func newTextWidget(id, widgetType string) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		widgetType: widgetType,
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return w.widgetType
}

// Text returns what the widget would draw right now
func (w *TextWidget) Text() string {
	if w.textFunc != nil {
		return w.textFunc()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	text := w.Text()
	if !w.IsEnabled() || text == "" {
		return nil
	}

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := metrics.Height.Ceil()

	textWidth := font.MeasureString(face, text).Ceil()

	w.mu.RLock()
	textColor := w.textColor
	bgColor := w.bgColor
	padding := w.padding
	w.mu.RUnlock()

	box := image.NewRGBA(image.Rect(0, 0, textWidth+padding*2, lineHeight+padding*2))
	if bgColor != nil {
		draw.Draw(box, box.Bounds(), &image.Uniform{*bgColor}, image.Point{}, draw.Src)
	}

	d := &font.Drawer{
		Dst:  box,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(padding, padding+ascent),
	}
	d.DrawString(text)

	BlendImage(img, box, w.x, w.y, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	config := w.baseConfig(w.widgetType)
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	switch w.widgetType {
	case TypeText:
		config["text"] = w.text
	case TypeTimestamp:
		config["format"] = w.text
	}
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.applyBase(config)

	switch w.widgetType {
	case TypeText:
		if text, ok := config["text"].(string); ok {
			w.text = text
		}
	case TypeTimestamp:
		if format, ok := config["format"].(string); ok && format != "" {
			w.text = format
		}
	}

	if padding, ok := number(config["padding"]); ok {
		if padding < 0 {
			return fmt.Errorf("widget %s: padding must not be negative", w.id)
		}
		w.padding = padding
	}
	if c, ok := rgba(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := rgba(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText updates the text content of a fixed-text widget
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text = text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bgColor = c
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": c.R, "g": c.G, "b": c.B, "a": c.A}
}
