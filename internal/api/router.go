// Package api is the worker's operational HTTP surface: health
// snapshots, alert stats, dead-letter inspection and manual triggers.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/alert"
	"github.com/shelfjetlabs/shelfjet-worker/internal/api/middleware"
	"github.com/shelfjetlabs/shelfjet-worker/internal/config"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
	"github.com/shelfjetlabs/shelfjet-worker/internal/health"
	"github.com/shelfjetlabs/shelfjet-worker/internal/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/metrics"
)

type Router struct {
	engine      *gin.Engine
	server      *http.Server
	cfg         *config.Config
	monitor     *health.Monitor
	alerts      *alert.Engine
	inventory   *inventory.Service
	scheduler   *queue.Scheduler
	queue       *queue.Queue
	deadLetters job.DeadLetterRepository
	logger      *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	monitor *health.Monitor,
	alerts *alert.Engine,
	inventorySvc *inventory.Service,
	scheduler *queue.Scheduler,
	q *queue.Queue,
	deadLetters job.DeadLetterRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Router {
	// Disable GIN default logger
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:      r,
		cfg:         cfg,
		monitor:     monitor,
		alerts:      alerts,
		inventory:   inventorySvc,
		scheduler:   scheduler,
		queue:       q,
		deadLetters: deadLetters,
		logger:      logger,
	}

	api.registerRoutes(m)
	return api
}

func (r *Router) registerRoutes(m *metrics.Metrics) {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": r.cfg.AppName,
			"version": r.cfg.AppVersion,
		})
	})

	// Prometheus metrics endpoint
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	ops := r.engine.Group("/ops")
	ops.Use(r.adminAuth())
	{
		ops.GET("/health", r.SystemHealth)
		ops.GET("/alerts/stats", r.AlertStats)
		ops.GET("/deadletters", r.ListDeadLetters)
		ops.GET("/queues", r.QueueDepths)
		ops.POST("/jobs/trigger", r.TriggerJob)
		ops.POST("/listings/:id/auto-status", r.SetAutoStatus)
		ops.POST("/listings/:id/resume", r.ForceResume)
	}
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
