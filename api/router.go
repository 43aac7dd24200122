package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/unwrap/api/handler"
	"github.com/use-agent/unwrap/api/middleware"
	"github.com/use-agent/unwrap/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// stats may be nil when the browser stage is disabled.
func NewRouter(res handler.Resolver, stats handler.StatsProvider, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Redirect Resolver is running!")
	})

	v1 := r.Group("/api/v1")

	// Health: no auth.
	v1.GET("/health", handler.Health(stats, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	resolve := handler.Resolve(res, cfg.Resolver.MaxTimeout)
	protected.GET("/resolve", resolve)
	protected.POST("/resolve", resolve)

	concurrency := cfg.Browser.MaxSessions
	if concurrency < 1 {
		concurrency = 1
	}
	protected.POST("/resolve/batch", handler.ResolveBatch(res, cfg.Resolver.MaxTimeout, concurrency))

	return r
}
