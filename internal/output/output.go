// Package output streams composites to remote viewers.
package output

import (
	"github.com/bryanchriswhite/SplitView/internal/display"
)

// DefaultQuality is the JPEG quality used when Config.Quality is zero
const DefaultQuality = 90

// Config holds configuration for the MJPEG surface
type Config struct {
	Title   string
	Quality int // 1-100
}

var _ display.Surface = (*MJPEGSurface)(nil)
