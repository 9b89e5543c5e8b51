package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/flowfarm/internal/workflowfile"
	"github.com/aescanero/flowfarm/pkg/api/grpc"
	"github.com/aescanero/flowfarm/pkg/api/http"
	"github.com/aescanero/flowfarm/pkg/api/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var preloadWorkflows []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP, WebSocket and gRPC servers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&preloadWorkflows, "workflow", nil,
		"workflow file (YAML or JSON) to load at startup; repeatable")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting flowfarm",
		zap.String("version", appVersion),
		zap.String("build_time", appBuildTime),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("entity_backend", cfg.EntityStoreBackend()))

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	for _, path := range preloadWorkflows {
		wf, err := workflowfile.Load(path)
		if err != nil {
			a.shutdown(ctx)
			return err
		}
		if err := a.workflows.SaveWorkflow(ctx, wf); err != nil {
			a.shutdown(ctx)
			return err
		}
		logger.Info("workflow loaded",
			zap.String("workflow_id", wf.ID),
			zap.String("file", path))
	}

	a.manager.StartJanitor()
	a.health.Start()

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		APIKey:       cfg.APIKey,
		Orchestrator: a.manager,
		Workflows:    a.workflows,
		Entities:     a.entities,
		Health:       a.health,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(a.eventBus, a.manager, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:     cfg.GRPCPort,
		Monitor:  a.health,
		Interval: cfg.Runs.HealthCheckInterval,
		Logger:   logger,
	})
	if err != nil {
		a.shutdown(ctx)
		return err
	}

	// Start servers
	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("flowfarm started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort))

	// Wait for interrupt signal or a server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	a.shutdown(shutdownCtx)

	logger.Info("flowfarm shut down complete")
	return serveErr
}
