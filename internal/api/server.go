package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryanchriswhite/SplitView/internal/config"
	"github.com/bryanchriswhite/SplitView/internal/display"
	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/bryanchriswhite/SplitView/internal/output"
	"github.com/bryanchriswhite/SplitView/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Controller is the part of a running pipeline the API drives
type Controller interface {
	Stats() pipeline.Stats
	RequestStop()
}

// Server represents the HTTP API server
type Server struct {
	router        *mux.Router
	ctrl          Controller
	configMgr     *config.Manager
	stream        *output.MJPEGSurface
	upgrader      websocket.Upgrader
	statsInterval time.Duration
}

// NewServer creates a new API server. configMgr and stream may be nil;
// without a stream the MJPEG routes are not mounted.
func NewServer(ctrl Controller, configMgr *config.Manager, stream *output.MJPEGSurface) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		ctrl:      ctrl,
		configMgr: configMgr,
		stream:    stream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		statsInterval: time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stats/stream", s.handleStatsStream)
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/stop", methodNotAllowed("POST"))
	api.HandleFunc("/key", s.handleKey).Methods("POST")
	api.HandleFunc("/key", methodNotAllowed("POST"))
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.StreamHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot", s.stream.SnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/", s.stream.ViewerHandler()).Methods("GET")
	} else {
		s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost:%d", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// methodNotAllowed answers requests that reached a path registered only for
// other methods
func methodNotAllowed(allowed ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
		"state":   s.ctrl.Stats().State,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.ctrl.Stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.RequestStop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key, err := ParseKey(req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case s.stream != nil:
		if !s.stream.PushKey(key) {
			http.Error(w, "key buffer full", http.StatusServiceUnavailable)
			return
		}
	case key.IsExit():
		// Local surfaces read their own keyboard; an exit key from the API
		// still stops the run.
		s.ctrl.RequestStop()
	default:
		http.Error(w, "surface does not accept remote keys", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "key": req.Key})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>SplitView</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .label { color: #569cd6; }
        pre { color: #4ec9b0; }
    </style>
</head>
<body>
    <h1>SplitView</h1>
    <p class="label">The display surface is local; live stats follow.</p>
    <pre id="stats">connecting...</pre>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss:' : 'ws:') + '//' + location.host + '/api/stats/stream');
        ws.onmessage = ev => { document.getElementById('stats').textContent = JSON.stringify(JSON.parse(ev.data), null, 2); };
    </script>
</body>
</html>`)
}

// ParseKey maps "q", "Q", "esc"/"escape" or any single character to a Key
func ParseKey(s string) (display.Key, error) {
	switch strings.ToLower(s) {
	case "esc", "escape":
		return display.KeyEscape, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return display.KeyNone, fmt.Errorf("invalid key %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return display.Key(r), nil
}
