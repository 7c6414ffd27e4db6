package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kiln/pkg/api/middleware"
	"kiln/pkg/auth"
	"kiln/pkg/engine"
	"kiln/pkg/logger"
)

// Server exposes the engine over HTTP: process submission for clients and
// the internal execute endpoint for peer engines.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	engine *engine.Engine
}

// Config holds API server configuration.
type Config struct {
	Port   string
	Engine *engine.Engine
	// JWT is optional; nil leaves the API unauthenticated.
	JWT *auth.JWTService
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.TracingMiddleware("kiln-api"))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())

	s := &Server{
		router: router,
		engine: cfg.Engine,
	}

	s.registerRoutes(cfg.JWT)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // submits block for the lifetime of a process
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(jwt *auth.JWTService) {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// Prometheus metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwt))
	{
		processes := v1.Group("/processes")
		{
			processes.POST("", s.submitProcess)
			processes.GET("/:fingerprint/runs", s.listRuns)
		}
	}

	// Peer engines call this directly; it is not part of the public API.
	s.router.POST("/internal/v1/execute", s.executeForPeer)
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// healthCheck returns server health status.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"run_id":    s.engine.RunID(),
		"timestamp": time.Now().UTC(),
	})
}
