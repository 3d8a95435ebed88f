package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"multicallgofer/internal/config"
)

// Server serves the JSON-RPC query service and, when enabled, the metrics endpoint
type Server struct {
	cfg           *config.Config
	handler       *Handler
	registry      *prometheus.Registry
	rpcServer     *http.Server
	metricsServer *http.Server
	logger        zerolog.Logger
}

// New creates a new Server. registry may be nil when metrics are disabled.
func New(cfg *config.Config, service *Service, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		handler:  NewHandler(service, cfg.MaxBodySize, cfg.GetRequestTimeoutDuration(), logger),
		registry: registry,
		logger:   logger,
	}
}

// Handler returns the JSON-RPC HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listeners and serves in the background
func (s *Server) Start() error {
	rpcAddr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	rpcListener, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", rpcAddr, err)
	}

	s.rpcServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go s.serve(s.rpcServer, rpcListener, "RPC")

	if s.cfg.IsMetricsEnabled() && s.registry != nil {
		metricsAddr := net.JoinHostPort(s.cfg.Metrics.Host, strconv.Itoa(s.cfg.Metrics.Port))
		metricsListener, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			_ = s.rpcServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", metricsAddr, err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go s.serve(s.metricsServer, metricsListener, "metrics")
	}

	s.logger.Info().
		Str("rpc", fmt.Sprintf("http://%s", rpcListener.Addr())).
		Strs("methods", s.handler.service.Methods()).
		Msg("endpoint available")

	return nil
}

func (s *Server) serve(srv *http.Server, l net.Listener, name string) {
	s.logger.Info().
		Str("addr", l.Addr().String()).
		Msgf("starting %s server", name)
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msgf("%s server error", name)
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var rpcErr, metricsErr error
	if s.rpcServer != nil {
		rpcErr = s.rpcServer.Shutdown(ctx)
	}
	if s.metricsServer != nil {
		metricsErr = s.metricsServer.Shutdown(ctx)
	}

	if rpcErr != nil {
		return fmt.Errorf("RPC server shutdown error: %w", rpcErr)
	}
	if metricsErr != nil {
		return fmt.Errorf("metrics server shutdown error: %w", metricsErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
