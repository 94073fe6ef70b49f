package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// X11 keysyms the window listens for
const (
	keysymLowerQ = 0x71
	keysymUpperQ = 0x51
	keysymEscape = 0xff1b
)

// X11Config configures the X11 window surface
type X11Config struct {
	Title  string
	Width  int
	Height int
}

// X11Window renders composites into a plain X11 window and reports key
// presses from it.
type X11Window struct {
	cfg    X11Config
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext
	mu     sync.Mutex

	running   bool
	keymap    map[xproto.Keycode]Key
	wmDelete  xproto.Atom
	pending   []Key
	bitsPP    int
	scanlnPad int
}

// NewX11Window creates the surface; the window is created in Start
func NewX11Window(cfg X11Config) *X11Window {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.Title == "" {
		cfg.Title = "SplitView"
	}
	return &X11Window{cfg: cfg}
}

// Name implements Surface
func (w *X11Window) Name() string {
	return "x11"
}

// Start creates and maps the window
func (w *X11Window) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("x11 window already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	w.conn = conn
	w.screen = xproto.Setup(conn).DefaultScreen(conn)

	if err := w.findPixmapFormat(); err != nil {
		conn.Close()
		return err
	}

	windowID, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	w.window = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify | xproto.EventMaskKeyPress,
	}

	err = xproto.CreateWindowChecked(
		conn,
		w.screen.RootDepth,
		w.window,
		w.screen.Root,
		0, 0,
		uint16(w.cfg.Width), uint16(w.cfg.Height),
		0,
		xproto.WindowClassInputOutput,
		w.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window: %w", err)
	}

	log := logger.WithComponent("display")
	if err := w.setProperty("_NET_WM_NAME", "UTF8_STRING", w.cfg.Title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.watchDelete(); err != nil {
		log.Warn().Err(err).Msg("Failed to register WM_DELETE_WINDOW")
	}
	if err := w.loadKeymap(); err != nil {
		log.Warn().Err(err).Msg("Failed to load keyboard mapping, keys disabled")
	}

	if err := xproto.MapWindowChecked(conn, w.window).Check(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(w.window), 0, nil).Check(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	w.gc = gc
	conn.Sync()

	w.running = true
	log.Info().
		Int("width", w.cfg.Width).
		Int("height", w.cfg.Height).
		Uint32("window_id", uint32(w.window)).
		Msg("X11 window created")
	return nil
}

// Stop destroys the window and closes the connection
func (w *X11Window) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	if w.gc != 0 {
		xproto.FreeGC(w.conn, w.gc)
	}
	if w.window != 0 {
		xproto.DestroyWindow(w.conn, w.window)
		w.conn.Sync()
	}
	w.conn.Close()

	w.running = false
	logger.WithComponent("display").Info().Msg("X11 window closed")
	return nil
}

// Render scales img to fit the window, keeping its aspect ratio
func (w *X11Window) Render(img *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return fmt.Errorf("x11 window not running")
	}

	output := image.NewRGBA(image.Rect(0, 0, w.cfg.Width, w.cfg.Height))
	draw.NearestNeighbor.Scale(output, fitRect(img.Bounds(), output.Bounds()), img, img.Bounds(), draw.Src, nil)

	data, err := packZPixmap(output, w.bitsPP/8, w.scanlnPad/8, w.screen.RootDepth == 32)
	if err != nil {
		return err
	}

	err = xproto.PutImageChecked(
		w.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(w.window),
		w.gc,
		uint16(w.cfg.Width),
		uint16(w.cfg.Height),
		0, 0,
		0,
		w.screen.RootDepth,
		data,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to put image: %w", err)
	}
	return nil
}

// PollKey drains pending X events without blocking and returns the first
// recognised key press. Closing the window reports KeyEscape.
func (w *X11Window) PollKey() (Key, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return KeyNone, false
	}

	for {
		ev, xerr := w.conn.PollForEvent()
		if ev == nil && xerr == nil {
			break
		}
		if xerr != nil {
			logger.WithComponent("display").Debug().Str("error", xerr.Error()).Msg("X11 error event")
			continue
		}
		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			if k, ok := w.keymap[e.Detail]; ok {
				w.pending = append(w.pending, k)
			}
		case xproto.ClientMessageEvent:
			if e.Format == 32 && xproto.Atom(e.Data.Data32[0]) == w.wmDelete {
				w.pending = append(w.pending, KeyEscape)
			}
		case xproto.DestroyNotifyEvent:
			w.pending = append(w.pending, KeyEscape)
		}
	}

	if len(w.pending) == 0 {
		return KeyNone, false
	}
	k := w.pending[0]
	w.pending = w.pending[1:]
	return k, true
}

func (w *X11Window) findPixmapFormat() error {
	for _, format := range xproto.Setup(w.conn).PixmapFormats {
		if format.Depth == w.screen.RootDepth {
			w.bitsPP = int(format.BitsPerPixel)
			w.scanlnPad = int(format.ScanlinePad)
			return nil
		}
	}
	return fmt.Errorf("no pixmap format found for depth %d", w.screen.RootDepth)
}

// loadKeymap maps the keycodes producing q, Q and Escape
func (w *X11Window) loadKeymap() error {
	setup := xproto.Setup(w.conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	reply, err := xproto.GetKeyboardMapping(w.conn, first, count).Reply()
	if err != nil {
		return err
	}

	w.keymap = make(map[xproto.Keycode]Key)
	per := int(reply.KeysymsPerKeycode)
	for i := 0; i < int(count); i++ {
		for j := 0; j < per; j++ {
			idx := i*per + j
			if idx >= len(reply.Keysyms) {
				break
			}
			code := xproto.Keycode(int(first) + i)
			switch reply.Keysyms[idx] {
			case keysymLowerQ, keysymUpperQ:
				w.keymap[code] = KeyQuit
			case keysymEscape:
				w.keymap[code] = KeyEscape
			}
		}
	}
	return nil
}

func (w *X11Window) watchDelete() error {
	protocols, err := w.atom("WM_PROTOCOLS")
	if err != nil {
		return err
	}
	w.wmDelete, err = w.atom("WM_DELETE_WINDOW")
	if err != nil {
		return err
	}
	data := make([]byte, 4)
	xgb.Put32(data, uint32(w.wmDelete))
	return xproto.ChangePropertyChecked(w.conn, xproto.PropModeReplace, w.window,
		protocols, xproto.AtomAtom, 32, 1, data).Check()
}

func (w *X11Window) setProperty(name, typeName, value string) error {
	prop, err := w.atom(name)
	if err != nil {
		return err
	}
	typ, err := w.atom(typeName)
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(w.conn, xproto.PropModeReplace, w.window,
		prop, typ, 8, uint32(len(value)), []byte(value)).Check()
}

func (w *X11Window) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(w.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// fitRect centres src inside dst, scaled to fit while keeping aspect ratio
func fitRect(src, dst image.Rectangle) image.Rectangle {
	scaleX := float64(dst.Dx()) / float64(src.Dx())
	scaleY := float64(dst.Dy()) / float64(src.Dy())
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}

	width := int(float64(src.Dx()) * scale)
	height := int(float64(src.Dy()) * scale)
	offsetX := (dst.Dx() - width) / 2
	offsetY := (dst.Dy() - height) / 2
	return image.Rect(offsetX, offsetY, offsetX+width, offsetY+height)
}

// packZPixmap converts RGBA to the server's BGRx/BGR layout with scanline padding
func packZPixmap(img *image.RGBA, bytesPerPixel, padBytes int, keepAlpha bool) ([]byte, error) {
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	if padBytes <= 0 {
		padBytes = 1
	}

	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	unpadded := width * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		row := y * stride
		for x := 0; x < width; x++ {
			src := y*img.Stride + x*4
			dst := row + x*bytesPerPixel
			data[dst] = img.Pix[src+2]
			data[dst+1] = img.Pix[src+1]
			data[dst+2] = img.Pix[src]
			if bytesPerPixel == 4 && keepAlpha {
				data[dst+3] = img.Pix[src+3]
			}
		}
	}
	return data, nil
}
