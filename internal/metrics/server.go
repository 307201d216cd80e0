package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Addr      string
	Endpoint  string // metrics path, default /metrics
	Collector *Collector
	Logger    *slog.Logger
}

// Server serves /healthz and the Prometheus endpoint.
type Server struct {
	addr   string
	router chi.Router
	logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/metrics"
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "ok uptime=%s\n", cfg.Collector.Uptime().Truncate(time.Second))
	})
	r.Handle(cfg.Endpoint, promhttp.HandlerFor(cfg.Collector.Registry(), promhttp.HandlerOpts{}))

	return &Server{addr: cfg.Addr, router: r, logger: cfg.Logger}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("ops server stopping")
		return srv.Shutdown(shutdownCtx)
	}
}
