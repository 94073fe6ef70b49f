package capture

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/SplitView/internal/frame"
)

var (
	// ErrDeviceUnavailable is returned by Open when the device cannot be used.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrEndOfStream is returned by Read once the source has no more frames.
	// It is a normal termination signal, not a failure.
	ErrEndOfStream = errors.New("end of stream")
)

// Geometry describes the frames a source produces
type Geometry struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// String implements fmt.Stringer
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d @ %.2f FPS", g.Width, g.Height, g.FPS)
}

// Source defines the interface for frame capture backends.
// A source is owned by a single goroutine; implementations need not be
// safe for concurrent use.
type Source interface {
	// Open acquires the device. Failures wrap ErrDeviceUnavailable.
	Open() error

	// Read returns the next frame, or ErrEndOfStream when exhausted
	Read() (*frame.Frame, error)

	// Geometry reports frame size and nominal frame rate. Valid after Open.
	Geometry() Geometry

	// Release frees the device. Safe to call more than once.
	Release() error

	// Name returns a human-readable name for this source
	Name() string
}

// Unavailable wraps err so that errors.Is(result, ErrDeviceUnavailable) holds.
func Unavailable(source string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", source, ErrDeviceUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", source, ErrDeviceUnavailable, err)
}
