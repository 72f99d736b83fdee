package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rickgao/connmux/internal/auth"
	"github.com/rickgao/connmux/internal/config"
	"github.com/rickgao/connmux/internal/connection"
	"github.com/rickgao/connmux/internal/hub"
	"github.com/rickgao/connmux/internal/metrics"
	"github.com/rickgao/connmux/internal/version"
)

// server owns the HTTP surface of connhub.
type server struct {
	cfg      *config.Config
	hub      *hub.Hub
	metrics  *metrics.Metrics
	verifier *auth.Verifier // nil accepts unsigned handshakes
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

func newServer(cfg *config.Config, h *hub.Hub, m *metrics.Metrics, v *auth.Verifier, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		cfg:      cfg,
		hub:      h,
		metrics:  m,
		verifier: v,
		upgrader: &websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.Server.AllowedOrigins),
		},
		logger: logger,
	}
}

// checkOrigin returns nil for an empty list so gorilla applies its
// same-origin default. "*" admits every origin.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}

	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}

	return func(r *http.Request) bool {
		if set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.Path, s.handleConnect)
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// handleConnect upgrades the request and hands the connection to the hub.
func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	logger := s.logger
	if s.verifier != nil {
		keyID, err := s.verifier.Verify(r)
		if err != nil {
			s.logger.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		logger = logger.With("key_id", keyID)
	}

	// ConnectionConfig registers the configured channels before the reader starts
	connCfg := s.cfg.ConnectionConfig()
	connCfg.Manager.OnDrop = s.metrics.OnDrop
	connCfg.Manager.Observer = s.metrics

	m, err := connection.Accept(w, r, s.upgrader, connCfg, logger)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	for _, sub := range m.Subscriptions() {
		go s.logChannel(m, sub)
	}

	s.metrics.OnOpen()
	s.hub.Add(m)

	go func() {
		<-m.Done()
		s.metrics.OnClose()

		stats := m.Stats()
		logger.Info("connection finished",
			"session", m.ID().String(),
			"frames_received", stats.FramesReceived,
			"frames_routed", stats.FramesRouted,
			"frames_malformed", stats.FramesMalformed,
			"dropped_no_consumer", stats.DroppedNoConsumer,
			"dropped_saturated", stats.DroppedSaturated,
			"sends", stats.Sends,
		)
	}()
}

// logChannel logs every payload a client publishes on one channel.
func (s *server) logChannel(m *connection.Manager, sub *connection.Subscription) {
	for payload := range sub.Messages() {
		s.logger.Info("received",
			"session", m.ID().String(),
			"channel", sub.Channel(),
			"payload", payload,
		)
	}
}

type publishResponse struct {
	Channel string `json:"channel"`
	Sent    int    `json:"sent"`
	Error   string `json:"error,omitempty"`
}

// handlePublish broadcasts the request body to every connection.
func (s *server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel query parameter is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Connection.ReadLimit))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	sent, err := s.hub.Broadcast(r.Context(), channel, string(body))

	resp := publishResponse{Channel: channel, Sent: sent}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		switch {
		case errors.Is(err, connection.ErrEncode):
			status = http.StatusBadRequest
		case sent == 0:
			status = http.StatusBadGateway
		}
		s.logger.Warn("publish incomplete", "channel", channel, "sent", sent, "error", err)
	}

	writeJSON(w, status, resp)
}

type healthResponse struct {
	Status      string `json:"status"`
	Instance    string `json:"instance"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Instance:    s.cfg.Instance.ID,
		Version:     version.Version,
		Connections: s.hub.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
