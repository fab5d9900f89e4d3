// Package front implements the HTTP/WS surface spec.md §6 describes:
// health, prompt, chat, session CRUD, and worker status routes, plus the
// worker registration endpoint the hub listens on. Grounded file-for-file
// on server.py's aiohttp route table, built on net/http.ServeMux +
// gorilla/websocket in the style of internal/gateway/http_server.go's
// plain-mux wiring (no router dependency the teacher doesn't already use
// for this surface).
package front

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexushub/toolhub/internal/agentrunner"
	"github.com/nexushub/toolhub/internal/convo"
	"github.com/nexushub/toolhub/internal/hub"
	"github.com/nexushub/toolhub/internal/session"
)

// Server wires the hub, session store, and a provider-backed Conversation
// factory into the public HTTP/WS surface.
type Server struct {
	hub      *hub.Hub
	sessions *session.Store
	logger   *slog.Logger

	provider  convo.Provider
	model     string
	system    string
	maxTokens int

	upgrader websocket.Upgrader
}

// Config is the construction-time configuration of a Server.
type Config struct {
	Hub       *hub.Hub
	Sessions  *session.Store
	Provider  convo.Provider
	Model     string
	System    string
	MaxTokens int
	Logger    *slog.Logger
}

// New constructs a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:       cfg.Hub,
		sessions:  cfg.Sessions,
		logger:    logger.With("component", "front.Server"),
		provider:  cfg.Provider,
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Mux builds the full route table.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/", s.handleIndexRedirect)

	mux.HandleFunc("/prompt", s.handlePrompt)
	mux.HandleFunc("/ws/chat", s.handleWSChat)
	mux.HandleFunc("/api/workers", s.handleWorkers)
	mux.HandleFunc("/ws/worker", s.hub.ServeWorkerWS)

	mux.HandleFunc("/sessions", s.handleSessionsCollection)
	mux.HandleFunc("/sessions/", s.handleSessionsItem)

	return mux
}

// handleHealthz reports 200 if at least one worker is connected, 503
// otherwise. Mirrors server.py's healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.hub.WorkerCount() == 0 {
		http.Error(w, "no workers connected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleIndexRedirect sends `/` to a static UI mount point, matching
// server.py's index_redirect. The static file server itself is out of
// scope (spec.md §1); only the redirect route is carried.
func (s *Server) handleIndexRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/static/", http.StatusFound)
}

// handleWorkers returns the hub's per-worker status, matching server.py's
// workers_handler.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.WorkersInfo())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
