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

	"github.com/migrahosting-alt/mpanel-sub000/internal/api/middleware"
	"github.com/migrahosting-alt/mpanel-sub000/internal/config"
	"github.com/migrahosting-alt/mpanel-sub000/internal/orchestrator"
)

type Router struct {
	engine *gin.Engine
	server *http.Server
	cfg    *config.Config
	orch   *orchestrator.Service
	logger *zap.Logger
}

func NewRouter(cfg *config.Config, orch *orchestrator.Service, logger *zap.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine: r,
		cfg:    cfg,
		orch:   orch,
		logger: logger,
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The provisioning surface is internal; callers are the billing
	// panel and operators, authenticated by the shared admin token.
	v1 := r.engine.Group("/api/v1")
	v1.Use(r.adminAuth())
	{
		v1.POST("/jobs", r.RequestProvisioning)
		v1.GET("/jobs/:id", r.GetJob)
		v1.GET("/owners/:owner_ref/status", r.GetAggregateStatus)
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

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
