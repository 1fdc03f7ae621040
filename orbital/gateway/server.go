// Package gateway exposes the orchestrator over HTTP and WebSocket: REST
// endpoints for chat, analysis, and session state, a firehose socket that
// relays every coordination event, and a chat socket that interleaves live
// events with the final reply.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/orchestrator"
)

// Server wraps the HTTP listener and handlers backing the gateway.
type Server struct {
	cfg         config.GatewayConfig
	store       *coordination.Store
	broadcaster *coordination.Broadcaster
	orch        *orchestrator.Orchestrator
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	startTime time.Time
}

// NewServer prepares a gateway over the given store and orchestrator.
func NewServer(cfg config.GatewayConfig, store *coordination.Store, broadcaster *coordination.Broadcaster, orch *orchestrator.Orchestrator, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		broadcaster: broadcaster,
		orch:        orch,
		logger:      logger.With().Str("component", "gateway").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start binds the TCP listener and begins serving.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("gateway: server already started")
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.startTime = time.Now().UTC()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/context", s.handleContext)
	mux.HandleFunc("/latest-script", s.handleLatestScript)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/ws", s.handleFirehose)
	mux.HandleFunc("/ws/chat", s.handleChatSocket)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve error")
		}
	}()
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("gateway listening")
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	s.mu.RLock()
	uptime := int64(0)
	if !s.startTime.IsZero() {
		uptime = int64(time.Since(s.startTime).Seconds())
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      uptime,
		"subscribers": s.broadcaster.SubscriberCount(),
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	reply, err := s.orch.HandleMessage(r.Context(), req.Message)
	if err != nil {
		s.logger.Error().Err(err).Msg("chat failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type analyzeRequest struct {
	Mission string `json:"mission"`
	Deep    bool   `json:"deep"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Mission == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mission is required"})
		return
	}
	result := s.orch.RunFullAnalysis(r.Context(), req.Mission, req.Deep)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleLatestScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	script, ok := s.store.LatestScript()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no script generated yet"})
		return
	}
	writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	s.orch.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// wsEnvelope frames every message sent over the chat socket.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleFirehose relays every coordination event to the client until the
// client disconnects. Idle periods surface as keepalive events.
func (s *Server) handleFirehose(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("firehose upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	wg.Go(func() {
		defer cancel()
		for {
			event, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	})
	wg.Wait()
}

// handleChatSocket accepts chat messages as JSON frames. For each message
// it runs the pipeline while relaying coordination events, then sends the
// final reply. The relay stops when the pipeline completes; events
// published in that window are not replayed.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("chat socket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Message == "" {
			if err := conn.WriteJSON(wsEnvelope{Type: "error", Data: "message is required"}); err != nil {
				return
			}
			continue
		}
		if err := s.runChatTurn(r.Context(), conn, req.Message); err != nil {
			return
		}
	}
}

// runChatTurn executes one pipeline while a relay forwards live events to
// the socket; the relay is cancelled when the pipeline returns.
func (s *Server) runChatTurn(ctx context.Context, conn *websocket.Conn, message string) error {
	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	relayCtx, cancel := context.WithCancel(ctx)
	var (
		reply   *orchestrator.ChatReply
		pipeErr error
	)
	var pipeline conc.WaitGroup
	pipeline.Go(func() {
		defer cancel()
		reply, pipeErr = s.orch.HandleMessage(ctx, message)
	})

	var writeErr error
	for {
		event, err := sub.Next(relayCtx)
		if err != nil {
			break
		}
		if err := conn.WriteJSON(wsEnvelope{Type: "event", Data: event}); err != nil {
			writeErr = err
			cancel()
			break
		}
	}
	pipeline.Wait()

	if writeErr != nil {
		return writeErr
	}
	if pipeErr != nil {
		s.logger.Error().Err(pipeErr).Msg("chat pipeline failed")
		return conn.WriteJSON(wsEnvelope{Type: "error", Data: pipeErr.Error()})
	}
	return conn.WriteJSON(wsEnvelope{Type: "response", Data: reply})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
