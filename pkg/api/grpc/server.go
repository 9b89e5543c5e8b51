package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aescanero/flowfarm/internal/application/workers"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the orchestrator
const ServiceName = "flowfarm.Orchestrator"

// Server represents the gRPC API server
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	monitor  *workers.HealthMonitor
	interval time.Duration
	stopCh   chan struct{}
	logger   *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port     int
	Monitor  *workers.HealthMonitor
	Interval time.Duration
	Logger   *zap.Logger
}

// NewServer creates a new gRPC server exposing the standard health service
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return newServer(listener, cfg), nil
}

func newServer(listener net.Listener, cfg *Config) *Server {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		monitor:  cfg.Monitor,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   cfg.Logger,
	}
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	s.refresh()
	go s.watch()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// watch mirrors the health monitor into the health service
func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.monitor != nil && !s.monitor.IsHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	close(s.stopCh)
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
