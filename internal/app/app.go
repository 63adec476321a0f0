package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/skyframe/config"
	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/metrics"
	"github.com/d60-Lab/skyframe/internal/repository"
	"github.com/d60-Lab/skyframe/internal/service"
	"github.com/d60-Lab/skyframe/pkg/cache"
	"github.com/d60-Lab/skyframe/pkg/database"
	"github.com/d60-Lab/skyframe/pkg/logger"
)

// App 持有进程内共享的依赖
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Metrics *metrics.Feed

	Users   repository.UserRepository
	Images  repository.ImageRepository
	Follows repository.FollowRepository
	Likes   repository.LikeRepository
	Seen    service.SweepSource

	Engine       *feed.Engine
	Feed         service.FeedService
	Relationship service.RelationshipService
	Sweeper      *service.SeenSweeper
	Recorder     *service.SeenRecorder

	stopRecorder func(context.Context) error
}

// New 按配置组装存储、引擎与服务。reg 为 nil 时使用默认注册表。
// 任一步失败时已打开的连接与已启动的 worker 会被释放。
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (a *App, err error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	a = &App{Config: cfg, DB: db}
	defer func() {
		if err != nil {
			if cerr := a.Close(ctx); cerr != nil {
				logger.Warn("release after failed init", zap.Error(cerr))
			}
			a = nil
		}
	}()

	if a.Redis, err = cache.NewRedis(ctx, cfg.Redis); err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	if a.Metrics, err = metrics.NewFeed("skyframe", reg); err != nil {
		return nil, err
	}
	rdb, m := a.Redis, a.Metrics
	a.Users = repository.NewUserRepository(db)
	a.Images = repository.NewImageRepository(db)
	a.Follows = repository.NewFollowRepository(db)
	a.Likes = repository.NewLikeRepository(db)

	switch cfg.Seen.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("%w: seen.backend=redis requires redis.enabled", feed.ErrConfigInvalid)
		}
		a.Seen = repository.NewRedisSeenStore(rdb, repository.RedisSeenOptions{
			Retention: cfg.Feed.SeenRetention(),
			MaxCount:  cfg.Feed.SeenMaxIDs,
		})
	case "db", "":
		a.Seen = repository.NewSeenRepository(db)
	default:
		return nil, fmt.Errorf("%w: unknown seen.backend %q", feed.ErrConfigInvalid, cfg.Seen.Backend)
	}

	var engineSeen feed.SeenStore = a.Seen
	if cfg.Seen.Async {
		a.Recorder = service.NewSeenRecorder(a.Seen, cfg.Seen.QueueSize, m)
		a.stopRecorder = a.Recorder.Start(cfg.Seen.Workers)
		engineSeen = a.Recorder
	}

	a.Engine, err = feed.NewEngine(cfg.Feed, a.Images, engineSeen,
		feed.WithLogger(logger.With(zap.String("component", "feed"))),
		feed.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	users, err := repository.NewUserDirectory(a.Users, rdb, cfg.Cache.UserLRUSize, cfg.Cache.UserTTL)
	if err != nil {
		return nil, err
	}
	a.Feed = service.NewFeedService(a.Engine, a.Images, users, a.Follows, a.Likes)
	a.Relationship = service.NewRelationshipService(a.Follows, a.Likes, a.Images)
	a.Sweeper = service.NewSeenSweeper(a.Seen, cfg.Feed, cfg.Seen.SweepBatch, m)
	return a, nil
}

// Close 停止后台任务并释放连接
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.stopRecorder != nil {
		if err := a.stopRecorder(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop seen recorder: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB == nil {
		return errors.Join(errs...)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PingDB 健康检查
func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) PingRedis(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}
