// Package api wires the HTTP surface: liveness/health, Prometheus metrics,
// and the WebSocket signaling upgrade endpoint. This is the only HTTP
// surface the coordination core exposes — there is no REST resource API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/concord-chat/beacon/internal/config"
	"github.com/concord-chat/beacon/internal/network/signaling"
	"github.com/concord-chat/beacon/internal/observability"
	"github.com/concord-chat/beacon/internal/security"
)

// Server is the HTTP entry point: it mounts /health, /metrics, and
// /ws/signaling behind chi's router and middleware stack.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	logger     zerolog.Logger
	cfg        config.ServerConfig
}

// New builds the router and wraps it for Start/Shutdown.
func New(
	cfg config.ServerConfig,
	sec config.SecurityConfig,
	handler *signaling.Handler,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		health:  health,
		metrics: metrics,
		logger:  logger.With().Str("component", "api_server").Logger(),
		cfg:     cfg,
	}

	r := chi.NewRouter()

	// The WebSocket upgrade bypasses the REST middleware stack below (no
	// body-size cap or REST rate limiter applies to an upgraded socket).
	r.Get("/ws/signaling", handler.ServeWS)
	r.Get("/ws/signaling/", handler.ServeWS)

	restRouter := chi.NewRouter()
	restRouter.Use(middleware.RequestID)
	restRouter.Use(middleware.RealIP)
	restRouter.Use(RequestLogger(s.logger))
	restRouter.Use(middleware.Recoverer)
	restRouter.Use(middleware.Timeout(30 * time.Second))
	restRouter.Use(SecurityHeaders())
	restRouter.Use(CORSMiddleware(sec.CORSOrigins))
	restRouter.Use(MaxBodySize(sec.MaxBodyBytes))

	if sec.RateLimitRESTPerMin > 0 {
		limiter := security.NewRateLimiter(sec.RateLimitRESTPerMin, time.Minute, sec.RateLimitRESTPerMin)
		restRouter.Use(RateLimitMiddleware(limiter))
	}

	if metrics != nil {
		restRouter.Use(MetricsMiddleware(metrics))
	}

	restRouter.Get("/health", s.handleHealth)
	restRouter.Handle("/metrics", promhttp.Handler())

	r.Mount("/", restRouter)

	s.router = r
	return s
}

// Start begins listening for HTTP connections. Blocks until shutdown or an
// error occurs. The only fatal startup error in this server is failing to
// bind the listening socket.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the chi router as an http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth returns the aggregated health status from every registered
// check. GET /health — used by clients to probe reachability before
// upgrading to the signaling WebSocket.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result := s.health.Check(r.Context())

	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}
