package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/monitor"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
)

// Server represents the status API service
type Server struct {
	*service.ServiceBase
	config      *config.WebConfig
	logger      *logger.Logger
	httpServer  *http.Server
	router      *gin.Engine
	routesOnce  sync.Once
	monitor     MonitorView    // Optional monitoring loop
	alerts      AlertHistory   // Optional alert store
	health      HealthReporter // Optional health checks
	metrics     http.Handler   // Optional Prometheus handler
	evidenceDir string         // Optional evidence image directory
	jpegQuality int
	version     string
	startTime   time.Time
}

// MonitorView exposes the monitoring loop state
type MonitorView interface {
	Status() monitor.Status
	LatestFrame() (*capture.Frame, bool)
}

// AlertHistory lists stored alerts
type AlertHistory interface {
	List(ctx context.Context, limit int) ([]storage.AlertEntry, error)
	Count(ctx context.Context) (int, error)
}

// HealthReporter runs the health checks
type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		jpegQuality: 80,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetMonitor sets the monitoring loop served by /api/v1/status
func (s *Server) SetMonitor(m MonitorView) {
	s.monitor = m
}

// SetAlertHistory sets the store served by /api/v1/alerts
func (s *Server) SetAlertHistory(alerts AlertHistory) {
	s.alerts = alerts
}

// SetHealth sets the health checks served by /health/ready
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// SetMetricsHandler sets the handler mounted at /metrics
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// SetEvidence sets the directory evidence images are served from and the
// JPEG quality used for live frames
func (s *Server) SetEvidence(dir string, quality int) {
	s.evidenceDir = dir
	if quality > 0 {
		s.jpegQuality = quality
	}
}

// Handler returns the router with all routes installed
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /api/v1/events streams until the client leaves
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
			s.GetStatus().SetError(err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopped)
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/ready", s.handleReadiness)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/frame", s.handleFrame)
		api.GET("/events", s.handleEvents)

		alerts := api.Group("/alerts")
		{
			alerts.GET("", s.handleListAlerts)
		}

		api.GET("/evidence/:name", s.handleEvidence)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
