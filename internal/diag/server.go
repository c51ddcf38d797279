// Package diag exposes the translator's operator diagnostics over HTTP:
// a health probe, the known-node list, and Prometheus metrics.
package diag

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apertus/pkg/utils"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Status is what the translator reports about itself.
type Status struct {
	SerialConnected bool   `json:"serial_connected"`
	BusConnected    bool   `json:"bus_connected"`
	Uptime          string `json:"uptime"`
}

// Server serves the diagnostics API.
type Server struct {
	l      *slog.Logger
	server *http.Server
}

// New builds the server. nodes and status are polled per request.
func New(l *slog.Logger, addr string, nodes func() []string, status func() Status, gatherer prometheus.Gatherer) *Server {
	l = l.With(slog.String("component", "diag"))

	r := chi.NewRouter()
	r.Use(loggerMiddleware(l))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			respondJSON(l, w, http.StatusOK, status())
		})

		r.Get("/nodes", func(w http.ResponseWriter, req *http.Request) {
			ids := nodes()
			if ids == nil {
				ids = []string{}
			}

			respondJSON(l, w, http.StatusOK, map[string]any{"nodes": ids})
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		l: l,
		server: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// StartOnBackground serves until Shutdown; a listen failure cancels the
// process context.
func (s *Server) StartOnBackground(cancel context.CancelFunc) {
	go func() {
		s.l.Info("diagnostics listening", slog.String("addr", s.server.Addr))

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("diagnostics server failed", utils.ErrAttr(err))
			cancel()
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func respondJSON(l *slog.Logger, w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := utils.ToJSONStream(w, data); err != nil {
		l.Error("failed to encode JSON response", utils.ErrAttr(err))
	}
}

func loggerMiddleware(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			l.Debug("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
