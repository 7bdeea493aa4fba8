package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the prometheus scrape endpoint on its own listener.
type Server struct {
	logger *zap.Logger
	srv    *http.Server
}

// NewServer creates a metrics server listening on addr, serving /metrics.
func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks serving scrapes until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("metrics server started", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve is like ListenAndServe on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("metrics server started", zap.String("addr", lis.Addr().String()))
	err := s.srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
