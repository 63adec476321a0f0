package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/metrics"
	"github.com/d60-Lab/skyframe/pkg/logger"
)

// SweepSource 枚举需要清理的用户，repository.SeenRepository 与
// repository.RedisSeenStore 均实现该接口
type SweepSource interface {
	feed.SeenStore
	SweepCandidates(ctx context.Context, olderThan time.Time, maxCount int, afterUserID uint64, limit int) ([]uint64, error)
}

// SeenSweeper 定时按保留期和数量上限清理全部用户的已推送记录
type SeenSweeper struct {
	store     SweepSource
	retention time.Duration
	maxCount  int
	batch     int
	now       func() time.Time
	metrics   *metrics.Feed

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSeenSweeper(store SweepSource, cfg feed.Config, batch int, m *metrics.Feed) *SeenSweeper {
	if batch <= 0 {
		batch = 500
	}
	return &SeenSweeper{
		store:     store,
		retention: cfg.SeenRetention(),
		maxCount:  cfg.SeenMaxIDs,
		batch:     batch,
		now:       time.Now,
		metrics:   m,
	}
}

// RunOnce 扫描一轮，返回处理的用户数和删除的记录数
func (s *SeenSweeper) RunOnce(ctx context.Context) (users int, removed int64, err error) {
	var olderThan time.Time
	if s.retention > 0 {
		olderThan = s.now().UTC().Add(-s.retention)
	}
	var after uint64
	for {
		ids, err := s.store.SweepCandidates(ctx, olderThan, s.maxCount, after, s.batch)
		if err != nil {
			return users, removed, fmt.Errorf("sweep candidates: %w", err)
		}
		var batchRemoved int64
		for _, id := range ids {
			n, err := s.store.PurgeSeen(ctx, id, olderThan, s.maxCount)
			if err != nil {
				s.metrics.SeenWriteFailed("sweep")
				logger.Warn("sweep purge failed", zap.Uint64("user", id), zap.Error(err))
				continue
			}
			users++
			batchRemoved += n
		}
		removed += batchRemoved
		s.metrics.SeenPurged(batchRemoved)
		if len(ids) < s.batch {
			return users, removed, nil
		}
		after = ids[len(ids)-1]
	}
}

// Start 按 cron 表达式调度 RunOnce；schedule 为空时不调度
func (s *SeenSweeper) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return fmt.Errorf("schedule seen sweep %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *SeenSweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *SeenSweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	started := time.Now()
	users, removed, err := s.RunOnce(ctx)
	if err != nil {
		logger.Error("seen sweep failed", zap.Error(err))
		return
	}
	logger.Info("seen sweep done", zap.Int("users", users), zap.Int64("removed", removed), zap.Duration("took", time.Since(started)))
}
