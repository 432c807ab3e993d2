// Package http provides the ops HTTP server: liveness, readiness, connection
// pool status and Prometheus metrics.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/mqingest/internal/metrics"
)

// readinessTimeout bounds all readiness checks of one request.
const readinessTimeout = 2 * time.Second

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Server is the ops HTTP server.
type Server struct {
	server *http.Server
	router *gin.Engine
	logger *slog.Logger

	checks map[string]Checker
	pool   metrics.PoolStatusSource
}

// NewServer creates a Server listening on host:port. Call SetupRouter before Start.
func NewServer(host string, port int, logger *slog.Logger) *Server {
	return &Server{
		logger: logger,
		checks: make(map[string]Checker),
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter registers the routes. /pool is served only when pool is not nil
// and /metrics only when metricsProvider is not nil.
func (s *Server) SetupRouter(
	checks map[string]Checker,
	pool metrics.PoolStatusSource,
	metricsProvider *metrics.Provider,
	metricsNamespace string,
) {
	for name, check := range checks {
		s.checks[name] = check
	}
	s.pool = pool

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), metricsNamespace))
		router.GET("/metrics", gin.WrapH(metricsProvider.Handler()))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)
	if pool != nil {
		router.GET("/pool", s.poolHandler)
	}

	s.router = router
	s.server.Handler = router
}

// GetHandler returns the configured handler.
func (s *Server) GetHandler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.SetupRouter(nil, nil, nil, "")
	}

	s.logger.Info("starting ops server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler runs every check and reports each component as "ok" or "error".
func (s *Server) readinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	ready := true
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", slog.String("component", name), slog.Any("error", err))
			components[name] = "error"
			ready = false
			continue
		}
		components[name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}

func (s *Server) poolHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.pool.Status())
}
