// Package server wires the rate limiter into an HTTP server with
// logging, metrics, and health endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/serroba/gcra"
	"github.com/serroba/gcra/internal/config"
	"github.com/serroba/gcra/middleware"
)

// Server is the rate-limited HTTP front.
type Server struct {
	router *chi.Mux
	http   *http.Server
	logger *zap.Logger
}

// New builds the router: /healthz and /metrics are open, everything
// else passes through the limiter keyed on client IP.
func New(cfg config.Config, lim *gcra.Limiter, store *gcra.ShardedStore, logger *zap.Logger, reg *prometheus.Registry) *Server {
	metrics := NewMetrics(reg, func() float64 {
		return float64(store.Len())
	})

	limit := middleware.RateLimit(lim,
		middleware.WithLimitHeaders(),
		middleware.WithObserver(func(allowed bool) {
			result := "allow"
			if !allowed {
				result = "deny"
			}
			metrics.DecisionsTotal.WithLabelValues(result).Inc()
		}),
	)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(RequestLogger(logger, metrics))

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.With(limit).Get("/", handleHello)

	return &Server{
		router: r,
		logger: logger,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start runs the server until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))

	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleHello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Hello from the GCRA rate-limited server!\n"))
}
