// Package server exposes the HTTP surface: the liveness routes, the
// WebSocket endpoint, claim inspection and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/christopherjohns/guestsync/internal/claim"
	"github.com/christopherjohns/guestsync/internal/logging"
	"github.com/christopherjohns/guestsync/internal/ratelimit"
	"github.com/christopherjohns/guestsync/internal/ws"
)

// Greeting is the body of GET /.
const Greeting = "Hello from Socket Server!"

const shutdownTimeout = 10 * time.Second

// Coordinator is the coordination service as seen by the HTTP layer.
type Coordinator interface {
	ws.Coordinator
	Dispose(ctx context.Context, group string) error
	Close()
}

// Server is the main HTTP server.
type Server struct {
	addr     string
	mux      *http.ServeMux
	handler  http.Handler
	hub      *ws.Hub
	coord    Coordinator
	log      *slog.Logger
	origins  []string
	limiter  *ratelimit.Limiter
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithAllowedOrigins sets the browser origins accepted for CORS and for
// WebSocket upgrades.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithRateLimiter limits guest updates per connection.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a Server listening on addr.
func New(addr string, hub *ws.Hub, coord Coordinator, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		hub:      hub,
		coord:    coord,
		log:      logging.Nop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "http")
	s.routes()
	s.handler = s.logRequests(s.cors(s.mux))
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down: HTTP first, then the
// open WebSocket connections, then outstanding persistence calls.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.hub.ConnMgr().Shutdown()
		s.coord.Close()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.ConnMgr().Shutdown()
	s.coord.Close()

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.Handle("GET /socket", ws.NewHandler(s.hub, s.coord,
		ws.WithAllowedOrigins(s.origins...),
		ws.WithRateLimiter(s.limiter),
	))
	s.mux.HandleFunc("GET /api/groups/{id}/claims", s.handleListClaims)
	s.mux.HandleFunc("DELETE /api/groups/{id}/claims", s.handleDisposeClaims)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, Greeting)
}

// HealthResponse reports liveness plus current socket load.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.hub.ConnMgr().Count(),
		Rooms:       s.hub.RoomCount(),
	})
}

// ClaimsResponse lists the claimed guests of a group.
type ClaimsResponse struct {
	GroupID string   `json:"idGroup"`
	Guests  []string `json:"guests"`
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.PathValue("id"))
	guests, err := s.coord.Claimed(r.Context(), group)
	if err != nil {
		s.claimError(w, group, err)
		return
	}
	if guests == nil {
		guests = []string{}
	}
	writeJSON(w, http.StatusOK, ClaimsResponse{GroupID: group, Guests: guests})
}

func (s *Server) handleDisposeClaims(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.PathValue("id"))
	if err := s.coord.Dispose(r.Context(), group); err != nil {
		s.claimError(w, group, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) claimError(w http.ResponseWriter, group string, err error) {
	if errors.Is(err, claim.ErrEmptyGroup) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group id is required"})
		return
	}
	s.log.Error("claim registry request failed", "group", group, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "claim registry unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// logRequests logs every request once it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// cors answers browser preflights and tags responses for allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.origins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
