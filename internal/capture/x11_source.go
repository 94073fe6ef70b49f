package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/SplitView/internal/frame"
	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// ScreenConfig selects the region of the X11 root window to capture.
// A zero width or height means the full screen. When Window is set the
// region is taken from the first window whose title or class contains it.
type ScreenConfig struct {
	X      int
	Y      int
	Width  int
	Height int
	FPS    float64
	Window string
}

// ScreenSource captures a region of the X11 root window
type ScreenSource struct {
	cfg    ScreenConfig
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	seq    uint64
}

// NewScreenSource creates a screen source; the X connection is made in Open
func NewScreenSource(cfg ScreenConfig) *ScreenSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	return &ScreenSource{cfg: cfg}
}

// Open connects to the X server
func (s *ScreenSource) Open() error {
	conn, err := xgb.NewConn()
	if err != nil {
		return Unavailable(s.Name(), fmt.Errorf("failed to connect to X server: %w", err))
	}

	setup := xproto.Setup(conn)
	s.conn = conn
	s.screen = setup.DefaultScreen(conn)
	s.root = s.screen.Root

	if s.cfg.Window != "" {
		if err := s.targetWindow(); err != nil {
			conn.Close()
			s.conn = nil
			return Unavailable(s.Name(), err)
		}
	}

	if s.cfg.Width <= 0 || s.cfg.Height <= 0 {
		s.cfg.Width = int(s.screen.WidthInPixels) - s.cfg.X
		s.cfg.Height = int(s.screen.HeightInPixels) - s.cfg.Y
	}

	if depth := s.screen.RootDepth; depth != 24 && depth != 32 {
		conn.Close()
		s.conn = nil
		return Unavailable(s.Name(), fmt.Errorf("unsupported root depth %d", depth))
	}

	logger.WithComponent("capture").Info().
		Str("source", s.Name()).
		Int("x", s.cfg.X).
		Int("y", s.cfg.Y).
		Str("geometry", s.Geometry().String()).
		Msg("Screen source opened")
	return nil
}

// targetWindow points the capture region at the configured window, clipped
// to the screen
func (s *ScreenSource) targetWindow() error {
	windows, err := ListWindows(s.conn, s.root)
	if err != nil {
		return err
	}
	w, ok := MatchWindow(windows, s.cfg.Window)
	if !ok {
		return fmt.Errorf("no window matching %q", s.cfg.Window)
	}

	screen := image.Rect(0, 0, int(s.screen.WidthInPixels), int(s.screen.HeightInPixels))
	r := w.Bounds().Intersect(screen)
	if r.Empty() {
		return fmt.Errorf("window %q is off screen", w.Title)
	}
	s.cfg.X, s.cfg.Y = r.Min.X, r.Min.Y
	s.cfg.Width, s.cfg.Height = r.Dx(), r.Dy()

	logger.WithComponent("capture").Debug().
		Uint32("window", w.ID).
		Str("title", w.Title).
		Str("class", w.Class).
		Msg("Capturing window region")
	return nil
}

// ScreenWindows connects to the X server and lists its client windows
func ScreenWindows() ([]Window, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()
	return ListWindows(conn, xproto.Setup(conn).DefaultScreen(conn).Root)
}

// Read grabs the configured region of the root window
func (s *ScreenSource) Read() (*frame.Frame, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("screen source not open")
	}

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		int16(s.cfg.X), int16(s.cfg.Y),
		uint16(s.cfg.Width), uint16(s.cfg.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	f := &frame.Frame{
		Seq:        s.seq,
		CapturedAt: time.Now(),
		Image:      convertBGRX(reply.Data, s.cfg.Width, s.cfg.Height),
	}
	s.seq++
	return f, nil
}

// convertBGRX converts 32bpp X11 ZPixmap data to RGBA
func convertBGRX(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}

// Geometry implements Source
func (s *ScreenSource) Geometry() Geometry {
	return Geometry{Width: s.cfg.Width, Height: s.cfg.Height, FPS: s.cfg.FPS}
}

// Release closes the X connection
func (s *ScreenSource) Release() error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// Name implements Source
func (s *ScreenSource) Name() string {
	if s.cfg.Window != "" {
		return "screen:" + s.cfg.Window
	}
	return "screen"
}
