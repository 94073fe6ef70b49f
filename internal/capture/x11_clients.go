package capture

import (
	"fmt"
	"image"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// Window is a top-level X11 client window and its root-relative bounds
type Window struct {
	ID     uint32 `json:"id"`
	Title  string `json:"title"`
	Class  string `json:"class"`
	PID    int    `json:"pid,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Bounds returns the window rectangle in root coordinates
func (w Window) Bounds() image.Rectangle {
	return image.Rect(w.X, w.Y, w.X+w.Width, w.Y+w.Height)
}

// ListWindows returns user-visible windows using EWMH _NET_CLIENT_LIST,
// falling back to the children of the root window.
func ListWindows(conn *xgb.Conn, root xproto.Window) ([]Window, error) {
	log := logger.WithComponent("capture")

	ids, err := clientList(conn, root)
	if err != nil || len(ids) == 0 {
		log.Debug().Err(err).Msg("_NET_CLIENT_LIST unavailable, falling back to QueryTree")
		tree, err := xproto.QueryTree(conn, root).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to query window tree: %w", err)
		}
		ids = tree.Children
	}

	windows := make([]Window, 0, len(ids))
	for _, id := range ids {
		w, err := windowInfo(conn, root, id)
		if err != nil {
			log.Debug().Uint32("window", uint32(id)).Err(err).Msg("Skipping window")
			continue
		}
		if w.Title == "" && w.Class == "" {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// MatchWindow returns the first window whose title or class contains query,
// case-insensitively
func MatchWindow(windows []Window, query string) (Window, bool) {
	q := strings.ToLower(query)
	for _, w := range windows {
		if strings.Contains(strings.ToLower(w.Title), q) || strings.Contains(strings.ToLower(w.Class), q) {
			return w, true
		}
	}
	return Window{}, false
}

func clientList(conn *xgb.Conn, root xproto.Window) ([]xproto.Window, error) {
	atom, err := internAtom(conn, "_NET_CLIENT_LIST")
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(conn, false, root, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, err
	}
	ids := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		ids = append(ids, xproto.Window(cardinal(reply.Value[i:])))
	}
	return ids, nil
}

func windowInfo(conn *xgb.Conn, root, win xproto.Window) (Window, error) {
	w := Window{ID: uint32(win)}

	geom, err := xproto.GetGeometry(conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return w, fmt.Errorf("failed to get geometry: %w", err)
	}
	w.Width, w.Height = int(geom.Width), int(geom.Height)

	// geometry is parent-relative; reparenting window managers need the
	// translation to root
	pos, err := xproto.TranslateCoordinates(conn, win, root, 0, 0).Reply()
	if err == nil {
		w.X, w.Y = int(pos.DstX), int(pos.DstY)
	} else {
		w.X, w.Y = int(geom.X), int(geom.Y)
	}

	if title, err := stringProperty(conn, win, "_NET_WM_NAME"); err == nil {
		w.Title = title
	}
	if w.Title == "" {
		if title, err := stringProperty(conn, win, "WM_NAME"); err == nil {
			w.Title = title
		}
	}
	if raw, err := stringProperty(conn, win, "WM_CLASS"); err == nil {
		w.Class = parseClass(raw)
	}

	if atom, err := internAtom(conn, "_NET_WM_PID"); err == nil {
		reply, err := xproto.GetProperty(conn, false, win, atom, xproto.AtomCardinal, 0, 1).Reply()
		if err == nil && len(reply.Value) >= 4 {
			w.PID = int(cardinal(reply.Value))
		}
	}
	return w, nil
}

// parseClass picks the class from a WM_CLASS value ("instance\0class\0"),
// falling back to the instance
func parseClass(raw string) string {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return parts[0]
}

func cardinal(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func internAtom(conn *xgb.Conn, name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

func stringProperty(conn *xgb.Conn, win xproto.Window, name string) (string, error) {
	atom, err := internAtom(conn, name)
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}
