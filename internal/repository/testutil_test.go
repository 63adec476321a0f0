package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/skyframe/internal/model"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(tb, err)
	sqlDB, err := db.DB()
	require.NoError(tb, err)
	// 每个连接都是独立的内存库
	sqlDB.SetMaxOpenConns(1)
	require.NoError(tb, db.AutoMigrate(model.All()...))
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedUsers(tb testing.TB, db *gorm.DB, n int) []model.User {
	tb.Helper()
	users := make([]model.User, n)
	for i := range users {
		users[i] = model.User{
			Username:     fmt.Sprintf("u%04d", i+1),
			Email:        fmt.Sprintf("u%04d@example.com", i+1),
			PasswordHash: "x",
		}
	}
	require.NoError(tb, db.Create(&users).Error)
	return users
}

// seedImages 创建 n 张图片，id 越大越旧，上传者轮流分配
func seedImages(tb testing.TB, db *gorm.DB, n int, uploaders []model.User) []model.Image {
	tb.Helper()
	images := make([]model.Image, n)
	for i := range images {
		created := base.Add(-time.Duration(i+1) * time.Minute)
		images[i] = model.Image{
			ID:           uint64(i + 1),
			UserID:       uploaders[i%len(uploaders)].ID,
			Category:     "deep-sky",
			ObjectName:   fmt.Sprintf("M%d", i+1),
			ObserverName: uploaders[i%len(uploaders)].Username,
			ObservedAt:   created,
			CreatedAt:    created,
			UpdatedAt:    created,
		}
	}
	require.NoError(tb, db.CreateInBatches(&images, 200).Error)
	return images
}

func ids(images []model.Image) []uint64 {
	out := make([]uint64, len(images))
	for i, im := range images {
		out[i] = im.ID
	}
	return out
}

var ctx = context.Background()
