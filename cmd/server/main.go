// @title skyframe API
// @version 1.0
// @description Astrophotography image feed.
// @BasePath /
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/skyframe/config"
	"github.com/d60-Lab/skyframe/internal/api"
	"github.com/d60-Lab/skyframe/internal/api/handler"
	"github.com/d60-Lab/skyframe/internal/app"
	"github.com/d60-Lab/skyframe/internal/middleware"
	"github.com/d60-Lab/skyframe/pkg/logger"
	"github.com/d60-Lab/skyframe/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		logger.Fatal("init app", zap.Error(err))
	}
	if cfg.Feed.SeenEnabled {
		if err := a.Sweeper.Start(cfg.Seen.SweepCron); err != nil {
			logger.Fatal("start seen sweeper", zap.Error(err))
		}
	}

	checks := map[string]handler.Pinger{"db": handler.PingFunc(a.PingDB)}
	if a.Redis != nil {
		checks["redis"] = handler.PingFunc(a.PingRedis)
	}
	h := handler.NewHandler(a.Feed, a.Relationship, checks)

	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	router := api.SetupRouter(h, api.RouterOptions{
		ServiceName: cfg.Tracing.ServiceName,
		Sentry:      cfg.Sentry.DSN != "",
		Tracing:     cfg.Tracing.Enabled,
		Swagger:     gin.Mode() != gin.ReleaseMode,
		RateLimiter: limiter,
		Identity: middleware.IdentityOptions{
			Secret:      cfg.JWT.Secret,
			Issuer:      cfg.JWT.Issuer,
			AllowHeader: gin.Mode() != gin.ReleaseMode,
		},
	})

	var root http.Handler = router
	if cfg.Server.RequestTimeout > 0 {
		root = http.TimeoutHandler(router, cfg.Server.RequestTimeout, `{"code":503,"message":"request timeout"}`)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("close app", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("shutdown tracing", zap.Error(err))
	}
}
