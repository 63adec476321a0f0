package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/model"
)

var ErrImageNotFound = errors.New("image not found")

const feedOrder = "images.created_at DESC, images.id DESC"

// ImageRepository 图片仓储，同时实现 feed.CandidateStore
type ImageRepository interface {
	feed.CandidateStore
	Create(ctx context.Context, img *model.Image) error
	GetByID(ctx context.Context, id uint64) (*model.Image, error)
	Delete(ctx context.Context, id uint64) error
	ListByUser(ctx context.Context, userID uint64, after feed.Position, limit int) ([]model.Image, error)
	Count(ctx context.Context) (int64, error)
}

type imageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) ImageRepository { return &imageRepository{db: db} }

func (r *imageRepository) Create(ctx context.Context, img *model.Image) error {
	return r.db.WithContext(ctx).Create(img).Error
}

func (r *imageRepository) GetByID(ctx context.Context, id uint64) (*model.Image, error) {
	var img model.Image
	if err := r.db.WithContext(ctx).First(&img, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	return &img, nil
}

// Delete 删除图片及其点赞、已推送记录
func (r *imageRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&model.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("image_id = ?", id).Delete(&model.FeedSeen{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Image{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrImageNotFound
		}
		return nil
	})
}

func (r *imageRepository) ListByUser(ctx context.Context, userID uint64, after feed.Position, limit int) ([]model.Image, error) {
	var out []model.Image
	tx := r.db.WithContext(ctx).Model(&model.Image{}).Where("images.user_id = ?", userID)
	err := resumeAfter(tx, after).Order(feedOrder).Limit(limit).Find(&out).Error
	return out, err
}

func (r *imageRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Image{}).Count(&n).Error
	return n, err
}

func (r *imageRepository) FetchPrioritized(ctx context.Context, q feed.PrioritizedQuery) ([]model.Image, error) {
	if q.UserID == 0 || q.Limit <= 0 {
		return nil, nil
	}
	sql, args := prioritizedPredicate(q.UserID, q.FreshCutoff)
	tx := r.db.WithContext(ctx).Model(&model.Image{}).Where(sql, args...)
	tx = excludeIDs(resumeAfter(tx, q.After), q.ExcludeIDs)

	var out []model.Image
	err := tx.Order(feedOrder).Limit(q.Limit).Find(&out).Error
	return out, err
}

// FetchGlobal 返回不属于优先池的最新图片，两池对同一 (user, cutoff) 互斥
func (r *imageRepository) FetchGlobal(ctx context.Context, q feed.GlobalQuery) ([]model.Image, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Image{})
	if q.UserID != 0 {
		sql, args := prioritizedPredicate(q.UserID, q.FreshCutoff)
		tx = tx.Where("NOT "+sql, args...)
	}
	tx = excludeIDs(resumeAfter(tx, q.After), q.ExcludeIDs)

	var out []model.Image
	err := tx.Order(feedOrder).Limit(q.Limit).Find(&out).Error
	return out, err
}

func (r *imageRepository) FetchRandom(ctx context.Context, limit int) ([]model.Image, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []model.Image
	err := r.db.WithContext(ctx).Model(&model.Image{}).Order("RANDOM()").Limit(limit).Find(&out).Error
	return out, err
}

func prioritizedPredicate(userID uint64, cutoff time.Time) (string, []any) {
	sql := "(images.user_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)" +
		" OR images.id IN (SELECT image_id FROM likes WHERE user_id = ?))"
	args := []any{userID, userID}
	if !cutoff.IsZero() {
		sql = "(" + sql + " AND images.created_at >= ?)"
		args = append(args, cutoff.UTC())
	}
	return sql, args
}

// resumeAfter keeps rows strictly after p in (created_at desc, id desc) order.
func resumeAfter(tx *gorm.DB, p feed.Position) *gorm.DB {
	if p.IsZero() {
		return tx
	}
	t := p.CreatedAt.UTC()
	return tx.Where("(images.created_at < ? OR (images.created_at = ? AND images.id < ?))", t, t, p.ID)
}

func excludeIDs(tx *gorm.DB, ids []uint64) *gorm.DB {
	if len(ids) == 0 {
		return tx
	}
	return tx.Where("images.id NOT IN ?", ids)
}
