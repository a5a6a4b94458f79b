// Package server exposes snapshots over HTTP: a JSON API, a websocket live
// feed, Prometheus metrics and a health check.
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
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravito-framework/connectty-go/internal/telemetry"
	"github.com/gravito-framework/connectty-go/pkg/sampler"
	"github.com/gravito-framework/connectty-go/pkg/store"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

// StatusFunc reports the sampler state for /healthz
type StatusFunc func() sampler.Stats

// Server serves one node's aggregator
type Server struct {
	addr    string
	node    string
	agg     *store.Aggregator
	metrics *telemetry.Metrics
	status  StatusFunc
	origins []string
	log     *slog.Logger

	hub      *Hub
	upgrader websocket.Upgrader
	http     *http.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option is a functional option for configuring the Server
type Option func(*Server)

// WithMetrics serves /metrics and instruments the API routes
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithStatus makes /healthz report the sampler state
func WithStatus(fn StatusFunc) Option {
	return func(s *Server) {
		s.status = fn
	}
}

// WithAllowedOrigins lists the origins allowed to open the websocket. Without
// it any origin is accepted.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// New creates a server for the aggregator of node
func New(addr, node string, agg *store.Aggregator, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		node: node,
		agg:  agg,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(node, s.log)
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(s.origins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if !slices.Contains(s.origins, origin) {
			s.log.Warn("websocket origin rejected", "origin", origin)
			return false
		}
		return true
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/snapshot", s.handleSnapshot)
	s.route(mux, "GET /api/series/{key}", s.handleSeries)
	s.route(mux, "GET /healthz", s.handleHealth)
	s.route(mux, "GET /ws", s.handleWebsocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.Middleware(pattern, h)
	}
	mux.Handle(pattern, h)
}

// Start runs the hub and begins serving. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.hub.Follow(ctx, s.agg)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "error", err)
		}
	}()

	s.log.Info("🌐 HTTP server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the HTTP server down and closes websocket clients
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	s.cancel()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Snapshot()

	limit, err := pointsParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit > 0 {
		trimmed := *snap
		trimmed.Series = make(map[string][]types.Point, len(snap.Series))
		for key, points := range snap.Series {
			trimmed.Series[key] = tail(points, limit)
		}
		snap = &trimmed
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	points, ok := s.agg.Snapshot().Series[key]
	if !ok {
		http.Error(w, "unknown series "+key, http.StatusNotFound)
		return
	}

	limit, err := pointsParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key":    key,
		"points": tail(points, limit),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"node":   s.node,
		"cycle":  s.agg.Snapshot().Cycle.Number,
	}
	code := http.StatusOK

	if s.status != nil {
		stats := s.status()
		body["sampler"] = stats
		if stats.State == sampler.StateStopped {
			body["status"] = "stopped"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, body)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, s.log)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	s.log.Debug("ws: client connected", "remote_addr", conn.RemoteAddr())
}

func pointsParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("points")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid points %q", v)
	}
	return n, nil
}

// tail returns the last n points; n == 0 means all
func tail(points []types.Point, n int) []types.Point {
	if points == nil {
		points = []types.Point{}
	}
	if n == 0 || n >= len(points) {
		return points
	}
	return points[len(points)-n:]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
