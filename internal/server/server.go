// Package server exposes the monitor's status cells over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/monitor"
)

const shutdownTimeout = 15 * time.Second

// StatusSource is the read side of the monitor.
type StatusSource interface {
	Snapshot() []monitor.BackendState
	State(name string) (monitor.BackendState, error)
	ProbeOnce(ctx context.Context, name string) (backend.ProbeResult, error)
}

type Server struct {
	router *chi.Mux
	logger *slog.Logger
}

// New builds the router. gatherer may be nil, in which case /metrics is not
// mounted.
func New(source StatusSource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		WriteResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/status", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			WriteResponse(w, http.StatusOK, source.Snapshot())
		})
		r.Get("/{backend}", func(w http.ResponseWriter, r *http.Request) {
			state, err := source.State(chi.URLParam(r, "backend"))
			if err != nil {
				WriteError(w, http.StatusNotFound, "unknown backend", err)
				return
			}
			WriteResponse(w, http.StatusOK, state)
		})
		r.Post("/{backend}/probe", func(w http.ResponseWriter, r *http.Request) {
			res, err := source.ProbeOnce(r.Context(), chi.URLParam(r, "backend"))
			switch {
			case errors.Is(err, monitor.ErrUnknownBackend):
				WriteError(w, http.StatusNotFound, "unknown backend", err)
			case errors.Is(err, monitor.ErrLoopActive):
				WriteError(w, http.StatusConflict, "probing loop active", err)
			case err != nil:
				WriteError(w, http.StatusInternalServerError, "probe failed", err)
			default:
				WriteResponse(w, http.StatusOK, res)
			}
		})
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not found")
	})

	return &Server{router: r, logger: logger.With("component", "server")}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "addr", lis.Addr().String())
		err := server.Serve(lis)
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return err
	}
	s.logger.Info("status API stopped")
	return nil
}
