package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSeenKeyPrefix = "feed:seen:"

// RedisSeenOptions 写入时同步执行的裁剪策略
type RedisSeenOptions struct {
	KeyPrefix string
	Retention time.Duration // 0 = 不按时间淘汰
	MaxCount  int           // 0 = 不按数量淘汰
}

// RedisSeenStore 每个用户一个 ZSET，member = image id，score = seen-at 毫秒。
// 追加与裁剪在同一个 MULTI/EXEC 中完成，并发写入同一用户时上限依然成立。
type RedisSeenStore struct {
	rdb  *redis.Client
	opts RedisSeenOptions

	mu    sync.Mutex
	swept []uint64
}

func NewRedisSeenStore(rdb *redis.Client, opts RedisSeenOptions) *RedisSeenStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultSeenKeyPrefix
	}
	return &RedisSeenStore{rdb: rdb, opts: opts}
}

func (s *RedisSeenStore) key(userID uint64) string {
	return s.opts.KeyPrefix + strconv.FormatUint(userID, 10)
}

func (s *RedisSeenStore) SeenIDs(ctx context.Context, userID uint64, since time.Time, limit int) ([]uint64, error) {
	minScore := "-inf"
	if !since.IsZero() {
		minScore = strconv.FormatInt(since.UnixMilli(), 10)
	}
	by := &redis.ZRangeBy{Min: minScore, Max: "+inf"}
	if limit > 0 {
		by.Count = int64(limit)
	}
	members, err := s.rdb.ZRevRangeByScore(ctx, s.key(userID), by).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisSeenStore) IsSeen(ctx context.Context, userID, imageID uint64) (bool, error) {
	_, err := s.rdb.ZScore(ctx, s.key(userID), strconv.FormatUint(imageID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordSeen 使用 ZADD NX，已存在的 member 不更新分数
func (s *RedisSeenStore) RecordSeen(ctx context.Context, userID uint64, imageIDs []uint64, at time.Time) error {
	if userID == 0 || len(imageIDs) == 0 {
		return nil
	}
	score := float64(at.UnixMilli())
	members := make([]redis.Z, len(imageIDs))
	for i, id := range imageIDs {
		members[i] = redis.Z{Score: score, Member: strconv.FormatUint(id, 10)}
	}

	key := s.key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, key, members...)
		var olderThan time.Time
		if s.opts.Retention > 0 {
			olderThan = at.Add(-s.opts.Retention)
		}
		s.trim(ctx, pipe, key, olderThan, s.opts.MaxCount)
		return nil
	})
	return err
}

func (s *RedisSeenStore) PurgeSeen(ctx context.Context, userID uint64, olderThan time.Time, maxCount int) (int64, error) {
	key := s.key(userID)
	var byAge, byRank *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		byAge, byRank = s.trim(ctx, pipe, key, olderThan, maxCount)
		return nil
	})
	if err != nil {
		return 0, err
	}
	var removed int64
	if byAge != nil {
		removed += byAge.Val()
	}
	if byRank != nil {
		removed += byRank.Val()
	}
	return removed, nil
}

func (s *RedisSeenStore) trim(ctx context.Context, pipe redis.Pipeliner, key string, olderThan time.Time, maxCount int) (byAge, byRank *redis.IntCmd) {
	if !olderThan.IsZero() {
		byAge = pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(olderThan.UnixMilli(), 10))
	}
	if maxCount > 0 {
		byRank = pipe.ZRemRangeByRank(ctx, key, 0, int64(-(maxCount + 1)))
	}
	if s.opts.Retention > 0 {
		pipe.Expire(ctx, key, s.opts.Retention)
	}
	return byAge, byRank
}

// SweepCandidates 返回 afterUserID 之后超出保留期或数量上限的用户，按 user_id 升序。
// afterUserID 为 0 时 SCAN 一次生成快照，同一轮清理的后续分页只读快照。
func (s *RedisSeenStore) SweepCandidates(ctx context.Context, olderThan time.Time, maxCount int, afterUserID uint64, limit int) ([]uint64, error) {
	if olderThan.IsZero() && maxCount <= 0 {
		return nil, nil
	}
	users, err := s.sweepUsers(ctx, afterUserID == 0)
	if err != nil {
		return nil, err
	}

	chunk := limit
	if chunk <= 0 {
		chunk = 500
	}
	start := sort.Search(len(users), func(i int) bool { return users[i] > afterUserID })
	var out []uint64
	for start < len(users) && (limit <= 0 || len(out) < limit) {
		end := min(start+chunk, len(users))
		due, err := s.dueForSweep(ctx, users[start:end], olderThan, maxCount)
		if err != nil {
			return nil, err
		}
		out = append(out, due...)
		start = end
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RedisSeenStore) sweepUsers(ctx context.Context, refresh bool) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !refresh && s.swept != nil {
		return s.swept, nil
	}

	ids := []uint64{}
	iter := s.rdb.Scan(ctx, 0, s.opts.KeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		raw := strings.TrimPrefix(iter.Val(), s.opts.KeyPrefix)
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan seen keys: %w", err)
	}
	// SCAN 可能重复返回同一个 key
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.swept = slices.Compact(ids)
	return s.swept, nil
}

// dueForSweep 用一次 pipeline 读取每个用户的 ZCARD 与最旧分数
func (s *RedisSeenStore) dueForSweep(ctx context.Context, users []uint64, olderThan time.Time, maxCount int) ([]uint64, error) {
	cards := make([]*redis.IntCmd, len(users))
	oldest := make([]*redis.ZSliceCmd, len(users))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range users {
			key := s.key(id)
			if maxCount > 0 {
				cards[i] = pipe.ZCard(ctx, key)
			}
			if !olderThan.IsZero() {
				oldest[i] = pipe.ZRangeWithScores(ctx, key, 0, 0)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inspect seen keys: %w", err)
	}

	cutoff := float64(olderThan.UnixMilli())
	var due []uint64
	for i, id := range users {
		over := cards[i] != nil && cards[i].Val() > int64(maxCount)
		if z := oldest[i]; z != nil && len(z.Val()) > 0 && z.Val()[0].Score < cutoff {
			over = true
		}
		if over {
			due = append(due, id)
		}
	}
	return due, nil
}
