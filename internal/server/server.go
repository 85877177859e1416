// Package server exposes the operational endpoints: prometheus metrics,
// liveness and the current provider budgets.
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/ratelimit"
)

type Server struct {
	mux    *http.ServeMux
	server *http.Server
	log    *zap.Logger
}

// New wires /metrics from gatherer, /healthz and, when governor is non-nil, /budgets.
func New(cfg config.ServerConfig, gatherer prometheus.Gatherer, governor *ratelimit.Governor, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{mux: mux, log: log.With(zap.String("module", "server"))}

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if governor != nil {
		mux.HandleFunc("/budgets", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(governor.Snapshot()); err != nil {
				s.log.Warn("encode budgets", zap.Error(err))
			}
		})
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Serve blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Serve() error {
	s.log.Info("serving metrics", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
