package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/flowfarm/internal/application/orchestrator"
	"github.com/aescanero/flowfarm/internal/application/workers"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	workflows    ports.WorkflowRepository
	entities     ports.EntityStore
	health       *workers.HealthMonitor
	validator    *orchestrator.Validator
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	APIKey       string
	Orchestrator *orchestrator.Manager
	Workflows    ports.WorkflowRepository
	Entities     ports.EntityStore
	Health       *workers.HealthMonitor
	// Gatherer backs /metrics; the default registry when nil
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		workflows:    cfg.Workflows,
		entities:     cfg.Entities,
		health:       cfg.Health,
		validator:    orchestrator.NewValidator(),
		logger:       cfg.Logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(cfg.APIKey, gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(apiKey string, gatherer prometheus.Gatherer) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1
	v1 := s.router.Group("/api/v1")
	v1.Use(AuthMiddleware(apiKey))
	{
		// Workflow endpoints
		v1.POST("/workflows", s.handleSaveWorkflow)
		v1.GET("/workflows", s.handleListWorkflows)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.DELETE("/workflows/:id", s.handleDeleteWorkflow)
		v1.POST("/workflows/:id/runs", s.handleStartRun)

		// Run endpoints
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/logs", s.handleGetLogs)
		v1.POST("/runs/:id/cancel", s.handleCancelRun)

		// Entity endpoints
		v1.POST("/accounts", s.handleImportAccounts)
		v1.GET("/accounts", s.handleListAccounts)
		v1.POST("/proxies", s.handlePushProxies)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleRunStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/runs/:id/ws", wsHandler.HandleRunStream)
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
