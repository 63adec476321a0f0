package api

import (
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/d60-Lab/skyframe/docs"
	"github.com/d60-Lab/skyframe/internal/api/handler"
	"github.com/d60-Lab/skyframe/internal/middleware"
)

type RouterOptions struct {
	ServiceName string
	Sentry      bool
	Tracing     bool
	Swagger     bool
	RateLimiter *middleware.IPRateLimiter
	Identity    middleware.IdentityOptions
	// Gatherer 为 nil 时使用 prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
}

func SetupRouter(h *handler.Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())
	if opts.Sentry {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if opts.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	if opts.RateLimiter != nil {
		v1.Use(middleware.RateLimit(opts.RateLimiter))
	}
	v1.Use(middleware.Identity(opts.Identity))
	{
		v1.GET("/feed", h.Feed)
		v1.GET("/my-feed", middleware.RequireUser(), h.MyFeed)

		rel := v1.Group("/relations")
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.POST("/follow", middleware.RequireUser(), h.Follow)
		rel.POST("/unfollow", middleware.RequireUser(), h.Unfollow)

		images := v1.Group("/images", middleware.RequireUser())
		images.POST("/:id/like", h.Like)
		images.DELETE("/:id/like", h.Unlike)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "not found"})
	})
	return r
}
