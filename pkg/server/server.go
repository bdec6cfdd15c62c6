package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"permafrost-hq/permafrost/pkg/config"
	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/engine"
	"permafrost-hq/permafrost/pkg/retention/scheduler"
	"permafrost-hq/permafrost/pkg/retention/veto"
	"permafrost-hq/permafrost/pkg/telemetry/health"
	"permafrost-hq/permafrost/pkg/telemetry/metrics"
)

// RetentionService is the engine surface the operator API serves.
// *engine.Engine satisfies it.
type RetentionService interface {
	RetentionHealth() []engine.KBHealth
	PendingApprovals() []*veto.PendingApproval
	ApproveDeletion(ctx context.Context, requestID, approver string) (*retention.Result, error)
	DenyDeletion(ctx context.Context, requestID, approver, reason string) error
	MarkMemoryAsEternal(ctx context.Context, kbName, memoryID, markedBy, reason string) (*retention.EternalMarker, error)
	EternalMarkers(kbName string) []retention.EternalMarker
	Scheduler() *scheduler.Scheduler
}

// BuildInfo identifies the running binary on the version endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP operations server for the retention service.
type Server struct {
	config       config.ServerConfig
	service      RetentionService
	checker      *health.Checker
	collector    *metrics.Collector
	build        BuildInfo
	logger       *slog.Logger
	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates the operations server. checker and collector may be
// nil; the corresponding endpoints then serve defaults.
func NewServer(cfg config.ServerConfig, service RetentionService,
	checker *health.Checker, collector *metrics.Collector, build BuildInfo) *Server {

	if checker == nil {
		checker = health.New(0)
	}
	return &Server{
		config:       cfg,
		service:      service,
		checker:      checker,
		collector:    collector,
		build:        build,
		logger:       slog.Default().With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until shutdown, either by
// context cancellation, an interrupt signal, or a Shutdown call.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("operations server starting", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the server gracefully, waiting up to the configured
// shutdown timeout for in-flight requests. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("operations server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes builds the route table and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.HandleFunc("GET /version", health.VersionHandler(s.build.Version, s.build.Commit, s.build.BuildTime))
	if s.collector != nil {
		mux.Handle("GET /metrics", s.collector.Handler())
	}

	mux.HandleFunc("GET /api/v1/retention/health", s.handleRetentionHealth)
	mux.HandleFunc("GET /api/v1/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/approvals/{id}/deny", s.handleDeny)
	mux.HandleFunc("POST /api/v1/eternal", s.handleMarkEternal)
	mux.HandleFunc("GET /api/v1/eternal/{kb}", s.handleListEternal)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/v1/tasks/{id}/run", s.handleRunTask)

	var handler http.Handler = mux
	handler = requestIDMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	return handler
}
