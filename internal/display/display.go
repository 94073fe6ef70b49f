package display

import (
	"image"
)

// Key is a key press reported by a surface
type Key rune

// Keys with special meaning to the display loop
const (
	KeyNone   Key = 0
	KeyEscape Key = 27
	KeyQuit   Key = 'q'
)

// IsExit reports whether k asks the display loop to stop
func (k Key) IsExit() bool {
	return k == KeyQuit || k == 'Q' || k == KeyEscape
}

// Surface defines the interface for render targets.
// This allows us to swap between different display methods:
// - OpenCV highgui window
// - X11 window
// - MJPEG HTTP stream
// - headless
//
// Render and PollKey are called from the display loop goroutine only.
type Surface interface {
	// Start creates the surface
	Start() error

	// Stop destroys the surface and everything it owns
	Stop() error

	// Render shows img
	Render(img *image.RGBA) error

	// PollKey returns a pending key press without blocking
	PollKey() (Key, bool)

	// Name returns a human-readable name for this surface
	Name() string
}

// Headless discards frames. It only exits on signal or end of stream.
type Headless struct {
	rendered uint64
}

// NewHeadless creates a surface that renders nothing
func NewHeadless() *Headless {
	return &Headless{}
}

// Start implements Surface
func (h *Headless) Start() error { return nil }

// Stop implements Surface
func (h *Headless) Stop() error { return nil }

// Render implements Surface
func (h *Headless) Render(img *image.RGBA) error {
	h.rendered++
	return nil
}

// PollKey implements Surface
func (h *Headless) PollKey() (Key, bool) { return KeyNone, false }

// Name implements Surface
func (h *Headless) Name() string { return "none" }

// Rendered returns how many frames were handed to the surface
func (h *Headless) Rendered() uint64 { return h.rendered }
