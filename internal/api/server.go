// Package api implements the storefront chat HTTP API: the /chat
// endpoints with JSON, Server-Sent Events and WebSocket delivery, plus
// health, version, and stats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/buildinfo"
)

// writeTimeout bounds a write with no progress. Streaming handlers push
// the deadline forward after every event.
const writeTimeout = 120 * time.Second

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	svc      *agent.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
	usage    UsageReporter

	mu       sync.Mutex
	server   *http.Server
	shutdown bool
}

// NewServer creates a new API server.
func NewServer(address string, port int, svc *agent.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		svc:     svc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Storefront pages are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChatPost)
	mux.HandleFunc("GET /chat", s.handleChatGet)
	mux.HandleFunc("DELETE /chat", s.handleChatDelete)
	mux.HandleFunc("PUT /chat", s.handleChatPut)
	mux.HandleFunc("GET /chat/ws", s.handleChatWebSocket)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /stats/usage", s.handleStatsUsage)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns when the listener
// closes; [http.ErrServerClosed] is reported as nil. In-flight turns
// are not cancelled with ctx; [Server.Shutdown] drains them.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.InfoContext(ctx, "starting API server", "address", addr, "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. A Start that has not begun
// listening yet returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Vanaci storefront agent",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "healthy"
	if s.svc.Stats().Sessions.Degraded {
		status = "degraded"
	}
	writeJSON(w, map[string]string{"status": status}, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.svc.Stats(), s.logger)
}
