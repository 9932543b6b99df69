package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/config"
	"github.com/shaunagostinho/meshgps/internal/gps"
	"github.com/shaunagostinho/meshgps/internal/sleep"
)

// Locator is the acquisition control surface the server exposes.
// *gps.Acquirer implements it.
type Locator interface {
	Status() gps.Status
	IsAwake() bool
	ForceWake(on bool)
}

// Kicker runs the acquisition tick early.
type Kicker interface {
	Kick()
}

// Server serves the status API and pushes every published snapshot to
// WebSocket clients.
type Server struct {
	cfg       *config.Config
	loc       Locator // nil when the node has no receiver
	kick      Kicker
	lifecycle *sleep.Lifecycle
	gatherer  prometheus.Gatherer
	log       *zap.SugaredLogger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	onConfig []func(*config.Config)

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Status      *gps.Status         `json:"status,omitempty"`
	Awake       *bool               `json:"awake,omitempty"`
	Preferences *config.Preferences `json:"preferences,omitempty"`
	Stamp       int64               `json:"stamp"` // Unix ms
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Enabled bool       `json:"enabled"`
	Awake   bool       `json:"awake"`
	Status  gps.Status `json:"status"`
}

// New creates a new Server. loc and kick may be nil.
func New(cfg *config.Config, loc Locator, kick Kicker, lc *sleep.Lifecycle, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:       cfg,
		loc:       loc,
		kick:      kick,
		lifecycle: lc,
		gatherer:  gatherer,
		log:       log,
		clients:   make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnConfigChange registers fn to run after every applied config update.
// Register before serving.
func (s *Server) OnConfigChange(fn func(*config.Config)) {
	s.onConfig = append(s.onConfig, fn)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/locate", s.handleLocate)
	mux.HandleFunc("/api/sleep", s.handleSleep)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Infof("listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish pushes st to every WebSocket client. Slow clients miss frames.
func (s *Server) Publish(st gps.Status) {
	s.broadcast(Frame{Status: &st, Stamp: time.Now().UnixMilli()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("ws upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Send current state first
	prefs := s.cfg.Preferences()
	first := Frame{Preferences: &prefs, Stamp: time.Now().UnixMilli()}
	if s.loc != nil {
		st := s.loc.Status()
		awake := s.loc.IsAwake()
		first.Status = &st
		first.Awake = &awake
	}
	if data, err := json.Marshal(first); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Debugf("ws client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects close)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.log.Debugf("ws client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{}
	if s.loc != nil {
		resp.Enabled = true
		resp.Awake = s.loc.IsAwake()
		resp.Status = s.loc.Status()
	}
	writeJSON(w, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warnf("config save failed: %v", err)
		}
		for _, fn := range s.onConfig {
			fn(s.cfg)
		}
		// The acquirer re-reads preferences on its next tick
		prefs := s.cfg.Preferences()
		s.broadcast(Frame{Preferences: &prefs, Stamp: time.Now().UnixMilli()})
		writeOK(w)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLocate starts an acquisition now, overriding the sleep interval
// and any wake veto.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.loc == nil {
		http.Error(w, "no gps receiver", http.StatusServiceUnavailable)
		return
	}
	s.loc.ForceWake(true)
	if s.kick != nil {
		s.kick.Kick()
	}
	s.log.Info("locate requested")
	writeOK(w)
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mode := sleep.Mode(r.URL.Query().Get("mode"))
	if s.lifecycle == nil || !s.lifecycle.Notify(mode) {
		http.Error(w, "mode must be light or deep", http.StatusBadRequest)
		return
	}
	s.log.Infof("%s sleep requested", mode)
	writeOK(w)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
