// Package server exposes the exporter's HTTP surface: the Prometheus
// scrape endpoint and a liveness probe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds the graceful drain of in-flight scrapes.
const shutdownTimeout = 5 * time.Second

// Server serves the exporter's HTTP endpoints:
//   - GET /metrics: Prometheus exposition from the exporter's registry
//   - GET /healthz: liveness probe
//
// The scrape endpoint reads the current metric snapshot on demand; it
// never blocks on, and is never blocked by, the poll cycle. Host
// failures therefore cannot take the endpoint down.
type Server struct {
	registry   *prometheus.Registry
	port       int
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server] around the given registry.
// The server is not started until [Server.Start] is called.
func NewServer(registry *prometheus.Registry, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		port:     port,
		logger:   logger,
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns once the listener is bound, so a
// port conflict surfaces synchronously. The server shuts down
// gracefully when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("metrics server listening", "addr", addr)
	return nil
}

// Addr returns the listener's address once [Server.Start] has returned
// successfully. Useful when the server was started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
