package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// UserSnapshot is the uploader identity rendered on a feed card.
type UserSnapshot struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// UserDirectory resolves uploader snapshots through an in-process LRU, an
// optional redis layer and finally the users table.
type UserDirectory struct {
	users UserRepository
	cache *redis.Client
	local *lru.Cache[uint64, UserSnapshot]
	ttl   time.Duration
}

// NewUserDirectory builds a directory; cache may be nil to skip redis.
func NewUserDirectory(users UserRepository, cache *redis.Client, size int, ttl time.Duration) (*UserDirectory, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New[uint64, UserSnapshot](size)
	if err != nil {
		return nil, fmt.Errorf("user lru: %w", err)
	}
	return &UserDirectory{users: users, cache: cache, local: local, ttl: ttl}, nil
}

func userKey(id uint64) string { return fmt.Sprintf("user:snapshot:%d", id) }

// Lookup returns snapshots for the ids that exist.
func (d *UserDirectory) Lookup(ctx context.Context, ids []uint64) (map[uint64]UserSnapshot, error) {
	out := make(map[uint64]UserSnapshot, len(ids))
	missing := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if snap, ok := d.local.Get(id); ok {
			out[id] = snap
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	missing = d.fromRedis(ctx, missing, out)
	if len(missing) == 0 {
		return out, nil
	}

	users, err := d.users.ListByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	var pipe redis.Pipeliner
	if d.cache != nil {
		pipe = d.cache.Pipeline()
	}
	for _, u := range users {
		snap := UserSnapshot{ID: u.ID, Username: u.Username}
		out[u.ID] = snap
		d.local.Add(u.ID, snap)
		if pipe != nil {
			if payload, err := json.Marshal(snap); err == nil {
				pipe.Set(ctx, userKey(u.ID), payload, d.ttl)
			}
		}
	}
	if pipe != nil && len(users) > 0 {
		_, _ = pipe.Exec(ctx)
	}
	return out, nil
}

// fromRedis fills out from redis and returns the ids still missing. Redis
// errors degrade to a database read.
func (d *UserDirectory) fromRedis(ctx context.Context, ids []uint64, out map[uint64]UserSnapshot) []uint64 {
	if d.cache == nil {
		return ids
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	vals, err := d.cache.MGet(ctx, keys...).Result()
	if err != nil {
		return ids
	}
	rest := ids[:0:0]
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			rest = append(rest, ids[i])
			continue
		}
		var snap UserSnapshot
		if err := json.Unmarshal([]byte(str), &snap); err != nil {
			rest = append(rest, ids[i])
			continue
		}
		out[ids[i]] = snap
		d.local.Add(ids[i], snap)
	}
	return rest
}

// Invalidate drops cached snapshots, e.g. after a username change.
func (d *UserDirectory) Invalidate(ctx context.Context, id uint64) {
	d.local.Remove(id)
	if d.cache != nil {
		_ = d.cache.Del(ctx, userKey(id)).Err()
	}
}
