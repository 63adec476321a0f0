package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/skyframe/config"
	"github.com/d60-Lab/skyframe/internal/feed"
)

func testConfig(redisAddr string) *config.Config {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true, MaxOpenConns: 1, LogLevel: "silent"},
		Feed:     feed.DefaultConfig(),
		Seen:     config.SeenStoreConfig{Backend: "db", QueueSize: 8, Workers: 2, SweepBatch: 10},
		Cache:    config.CacheConfig{UserLRUSize: 16, UserTTL: time.Minute},
	}
	if redisAddr != "" {
		cfg.Redis = config.RedisConfig{Enabled: true, Addr: redisAddr}
	}
	return cfg
}

func TestNewAndClose(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr.Addr())
	cfg.Seen.Backend = "redis"
	cfg.Seen.Async = true

	a, err := New(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, a.Feed)
	require.NotNil(t, a.Recorder)
	require.NoError(t, a.PingDB(context.Background()))
	require.NoError(t, a.PingRedis(context.Background()))

	require.NoError(t, a.Close(context.Background()))
	assert.Error(t, a.PingDB(context.Background()))
}

// 初始化失败时 New 不返回 App，已建立的 redis 连接必须被关闭
func TestNewReleasesOnError(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown seen backend": func(c *config.Config) { c.Seen.Backend = "tape" },
		"bad feed config after recorder start": func(c *config.Config) {
			c.Seen.Async = true
			c.Feed.PageSize = 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			cfg := testConfig(mr.Addr())
			mutate(cfg)

			a, err := New(context.Background(), cfg, prometheus.NewRegistry())
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestNewRedisBackendNeedsRedis(t *testing.T) {
	cfg := testConfig("")
	cfg.Seen.Backend = "redis"
	_, err := New(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorIs(t, err, feed.ErrConfigInvalid)
}
