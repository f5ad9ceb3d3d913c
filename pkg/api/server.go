// Package api serves the monitor HTTP endpoint: health, scheduler
// status, job timings, and store statistics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finbrief/finbrief/pkg/lifecycle"
	"github.com/finbrief/finbrief/pkg/storage"
	"github.com/finbrief/finbrief/pkg/version"
)

// Health status values reported by GET /health.
const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthCheckTimeout bounds the database ping inside the health handler.
const healthCheckTimeout = 5 * time.Second

// defaultNewsLimit caps GET /api/v1/news when the caller sends no limit.
const defaultNewsLimit = 50

// Server is the monitor HTTP server. It only reads: state from the
// lifecycle manager, job timings from its scheduler, rows from the
// store.
type Server struct {
	manager *lifecycle.Manager
	store   *storage.Store
	httpSrv *http.Server
}

// NewServer wires the routes and binds to addr. Start launches it.
func NewServer(addr string, manager *lifecycle.Manager, store *storage.Store) *Server {
	s := &Server{manager: manager, store: store}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.healthHandler)

	v1 := router.Group("/api/v1")
	v1.GET("/status", s.statusHandler)
	v1.GET("/jobs", s.jobsHandler)
	v1.GET("/stats", s.statsHandler)
	v1.GET("/news", s.newsHandler)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves in the background and reports listen failures on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Monitor endpoint listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// HealthCheck is one component's entry in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthHandler handles GET /health. Only finbrief's own components
// (database, scheduler) are checked; external services are excluded so
// an upstream outage never reads as a local failure.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.store.DB().PingContext(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.manager.Scheduler().IsRunning() {
		checks["scheduler"] = HealthCheck{Status: healthStatusHealthy}
	} else {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["scheduler"] = HealthCheck{Status: healthStatusDegraded, Message: "not running"}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.GitCommit,
		"checks":  checks,
	})
}

// statusHandler returns the lifecycle state snapshot: run flags,
// counters, health, and the recent execution history.
func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.State())
}

// jobsHandler returns the registered jobs with their next fire times.
func (s *Server) jobsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.manager.Scheduler().JobStatuses()})
}

// statsHandler returns store-level counters.
func (s *Server) statsHandler(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// newsQuery binds GET /api/v1/news filters.
type newsQuery struct {
	Source   string `form:"source"`
	Category string `form:"category"`
	Limit    int    `form:"limit"`
}

// newsHandler returns recent items, newest first, optionally filtered
// by source and category.
func (s *Server) newsHandler(c *gin.Context) {
	var q newsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit <= 0 {
		q.Limit = defaultNewsLimit
	}

	items, err := s.store.Query(c.Request.Context(), storage.QueryFilter{
		Source:   q.Source,
		Category: q.Category,
		Limit:    q.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}
