package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/metrics"
	"github.com/d60-Lab/skyframe/pkg/logger"
)

type recordJob struct {
	userID uint64
	ids    []uint64
	at     time.Time
}

// SeenRecorder 把 RecordSeen 放入有界队列由后台 worker 异步落地，
// 其余读写直接透传给底层存储。队列满时丢弃并告警。
type SeenRecorder struct {
	store   feed.SeenStore
	ch      chan recordJob
	metrics *metrics.Feed
	timeout time.Duration
}

var _ feed.SeenStore = (*SeenRecorder)(nil)

func NewSeenRecorder(store feed.SeenStore, queueSize int, m *metrics.Feed) *SeenRecorder {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &SeenRecorder{store: store, ch: make(chan recordJob, queueSize), metrics: m, timeout: 5 * time.Second}
}

// Start 启动 worker，返回的 stop 函数会排空队列直到 ctx 结束
func (r *SeenRecorder) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-r.ch:
					r.write(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		wg.Wait()
		for {
			select {
			case job := <-r.ch:
				r.write(job)
			case <-ctx.Done():
				if n := len(r.ch); n > 0 {
					logger.Warn("seen recorder stopped with pending jobs", zap.Int("pending", n))
				}
				return ctx.Err()
			default:
				return nil
			}
		}
	}
}

func (r *SeenRecorder) write(job recordJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.RecordSeen(ctx, job.userID, job.ids, job.at); err != nil {
		r.metrics.SeenWriteFailed("record_async")
		logger.Warn("async record seen failed", zap.Uint64("user", job.userID), zap.Int("ids", len(job.ids)), zap.Error(err))
	}
}

// RecordSeen 仅入队，永不返回错误
func (r *SeenRecorder) RecordSeen(_ context.Context, userID uint64, imageIDs []uint64, at time.Time) error {
	if userID == 0 || len(imageIDs) == 0 {
		return nil
	}
	ids := append([]uint64(nil), imageIDs...)
	select {
	case r.ch <- recordJob{userID: userID, ids: ids, at: at}:
	default:
		r.metrics.SeenDropped()
		logger.Warn("seen recorder queue full, drop", zap.Uint64("user", userID), zap.Int("ids", len(ids)))
	}
	return nil
}

func (r *SeenRecorder) SeenIDs(ctx context.Context, userID uint64, since time.Time, limit int) ([]uint64, error) {
	return r.store.SeenIDs(ctx, userID, since, limit)
}

func (r *SeenRecorder) IsSeen(ctx context.Context, userID, imageID uint64) (bool, error) {
	return r.store.IsSeen(ctx, userID, imageID)
}

func (r *SeenRecorder) PurgeSeen(ctx context.Context, userID uint64, olderThan time.Time, maxCount int) (int64, error) {
	return r.store.PurgeSeen(ctx, userID, olderThan, maxCount)
}

// QueueLen 返回当前队列长度（采样值）
func (r *SeenRecorder) QueueLen() int { return len(r.ch) }
