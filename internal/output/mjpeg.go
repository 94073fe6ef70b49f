package output

import (
	"bytes"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/display"
	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// MJPEGSurface streams composites as Motion JPEG over HTTP. Viewers send
// keys back through PushKey, usually via the control API.
type MJPEGSurface struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Latest encoded frame, replayed to new clients
	frameMu    sync.RWMutex
	latest     []byte
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	keys chan display.Key

	// Stats
	frameCount uint64
	startTime  time.Time
}

// StreamStats describes the MJPEG surface
type StreamStats struct {
	Running    bool      `json:"running"`
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	LastUpdate time.Time `json:"last_update"`
}

// NewMJPEGSurface creates a new MJPEG stream surface
func NewMJPEGSurface(config Config) *MJPEGSurface {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	if config.Title == "" {
		config.Title = "SplitView"
	}
	return &MJPEGSurface{
		config:  config,
		clients: make(map[chan []byte]struct{}),
		keys:    make(chan display.Key, 16),
	}
}

// Start implements display.Surface. The HTTP handlers are mounted
// separately.
func (m *MJPEGSurface) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG surface already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().Int("quality", m.config.Quality).Msg("MJPEG surface started")
	return nil
}

// Stop implements display.Surface and disconnects every client
func (m *MJPEGSurface) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount).Msg("MJPEG surface stopped")
	return nil
}

// Render implements display.Surface: the composite is encoded once and
// offered to every client. Slow clients miss frames.
func (m *MJPEGSurface) Render(img *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG surface not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	data := buf.Bytes()

	m.frameMu.Lock()
	m.latest = data
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// PollKey implements display.Surface
func (m *MJPEGSurface) PollKey() (display.Key, bool) {
	select {
	case k := <-m.keys:
		return k, true
	default:
		return display.KeyNone, false
	}
}

// PushKey queues a key press from a remote viewer. It reports false when
// the key buffer is full.
func (m *MJPEGSurface) PushKey(k display.Key) bool {
	select {
	case m.keys <- k:
		return true
	default:
		return false
	}
}

// Name implements display.Surface
func (m *MJPEGSurface) Name() string {
	return "mjpeg"
}

// IsRunning returns true if the surface is active
func (m *MJPEGSurface) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stats returns a snapshot of the stream counters
func (m *MJPEGSurface) Stats() StreamStats {
	m.mu.RLock()
	s := StreamStats{Running: m.running, Frames: m.frameCount}
	m.mu.RUnlock()

	m.frameMu.RLock()
	s.LastUpdate = m.lastUpdate
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	s.Clients = len(m.clients)
	m.clientsMu.RUnlock()
	return s
}

// StreamHandler serves the multipart MJPEG stream. Mount it at /stream.
func (m *MJPEGSurface) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("mjpeg")

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.frameMu.RLock()
		if m.latest != nil {
			frameChan <- m.latest
		}
		m.frameMu.RUnlock()

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log.Info().Int("clients", clientCount).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Client disconnected")
		}()

		for {
			var data []byte
			select {
			case <-r.Context().Done():
				return
			case d, ok := <-frameChan:
				if !ok {
					return
				}
				data = d
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// SnapshotHandler serves the latest composite as a single JPEG
func (m *MJPEGSurface) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.frameMu.RLock()
		data := m.latest
		m.frameMu.RUnlock()

		if data == nil {
			http.Error(w, "no frame rendered yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

var viewerTemplate = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            font-family: system-ui, -apple-system, sans-serif;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .stats {
            position: fixed;
            top: 12px;
            right: 12px;
            padding: 6px 12px;
            background: rgba(40, 40, 40, 0.85);
            color: #ccc;
            border-radius: 14px;
            font-size: 13px;
        }
        .quit {
            position: fixed;
            bottom: 24px;
            right: 24px;
            padding: 10px 18px;
            border: none;
            border-radius: 20px;
            background: rgba(220, 80, 80, 0.9);
            color: #fff;
            font-size: 14px;
            cursor: pointer;
        }
        .quit:hover { background: rgba(240, 100, 100, 0.95); }
    </style>
</head>
<body>
    <img src="/stream" alt="Original and processed frames">
    <div class="stats" id="stats">connecting...</div>
    <button class="quit" onclick="sendKey('q')" title="Stop the pipeline (q)">Quit</button>
    <script>
        function sendKey(key) {
            fetch('/api/key', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ key: key })
            }).catch(console.error);
        }
        document.addEventListener('keydown', e => {
            if (e.key === 'q' || e.key === 'Q' || e.key === 'Escape') {
                sendKey(e.key === 'Escape' ? 'esc' : e.key);
            }
        });
        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/api/stats/stream');
        ws.onmessage = ev => {
            const s = JSON.parse(ev.data);
            document.getElementById('stats').textContent =
                s.state + ' | ' + s.fps.toFixed(2) + ' FPS | failed batches ' + s.worker.failed;
        };
        ws.onclose = () => { document.getElementById('stats').textContent = 'disconnected'; };
    </script>
</body>
</html>`))

// ViewerHandler serves a page showing the stream with a quit button
func (m *MJPEGSurface) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := viewerTemplate.Execute(w, m.config); err != nil {
			logger.WithComponent("mjpeg").Error().Err(err).Msg("Failed to render viewer")
		}
	}
}
