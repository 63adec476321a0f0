package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/skyframe/internal/model"
)

type LikeRepository interface {
	Create(ctx context.Context, userID, imageID uint64) error
	Delete(ctx context.Context, userID, imageID uint64) error
	Exists(ctx context.Context, userID, imageID uint64) (bool, error)
	// LikedAmong 返回 imageIDs 中被 userID 点赞过的图片集合
	LikedAmong(ctx context.Context, userID uint64, imageIDs []uint64) (map[uint64]bool, error)
}

type likeRepository struct{ db *gorm.DB }

func NewLikeRepository(db *gorm.DB) LikeRepository { return &likeRepository{db: db} }

func (r *likeRepository) Create(ctx context.Context, userID, imageID uint64) error {
	l := &model.Like{UserID: userID, ImageID: imageID, CreatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(l).Error
}

func (r *likeRepository) Delete(ctx context.Context, userID, imageID uint64) error {
	return r.db.WithContext(ctx).Where("user_id = ? AND image_id = ?", userID, imageID).Delete(&model.Like{}).Error
}

func (r *likeRepository) Exists(ctx context.Context, userID, imageID uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Like{}).
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *likeRepository) LikedAmong(ctx context.Context, userID uint64, imageIDs []uint64) (map[uint64]bool, error) {
	out := make(map[uint64]bool)
	if userID == 0 || len(imageIDs) == 0 {
		return out, nil
	}
	var ids []uint64
	if err := r.db.WithContext(ctx).
		Model(&model.Like{}).
		Where("user_id = ? AND image_id IN ?", userID, imageIDs).
		Pluck("image_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
