package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/SplitView/internal/display"
)

// Window shows composites in an OpenCV highgui window
type Window struct {
	title  string
	width  int
	height int

	win     *gocv.Window
	pending display.Key
	hasKey  bool
}

// NewWindow creates a highgui surface. Zero width or height keeps the
// composite size.
func NewWindow(title string, width, height int) *Window {
	return &Window{title: title, width: width, height: height}
}

// Start implements display.Surface
func (w *Window) Start() error {
	w.win = gocv.NewWindow(w.title)
	if w.width > 0 && w.height > 0 {
		w.win.ResizeWindow(w.width, w.height)
	}
	return nil
}

// Render implements display.Surface
func (w *Window) Render(img *image.RGBA) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("convert composite: %w", err)
	}
	defer mat.Close()

	w.win.IMShow(mat)
	// highgui only paints while waiting for a key
	w.remember(w.win.WaitKey(1))
	return nil
}

// PollKey implements display.Surface
func (w *Window) PollKey() (display.Key, bool) {
	if !w.hasKey {
		w.remember(w.win.WaitKey(1))
	}
	if !w.hasKey {
		return display.KeyNone, false
	}
	k := w.pending
	w.hasKey = false
	return k, true
}

func (w *Window) remember(code int) {
	if code < 0 || w.hasKey {
		return
	}
	w.pending = display.Key(code & 0xff)
	w.hasKey = true
}

// Stop implements display.Surface
func (w *Window) Stop() error {
	if w.win == nil {
		return nil
	}
	err := w.win.Close()
	w.win = nil
	return err
}

// Name implements display.Surface
func (w *Window) Name() string {
	return "window"
}
