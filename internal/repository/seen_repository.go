package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/skyframe/internal/model"
)

// SeenRepository 基于 feed_seen 表的已推送记录，实现 feed.SeenStore
type SeenRepository struct {
	db *gorm.DB
}

func NewSeenRepository(db *gorm.DB) *SeenRepository { return &SeenRepository{db: db} }

func (r *SeenRepository) SeenIDs(ctx context.Context, userID uint64, since time.Time, limit int) ([]uint64, error) {
	tx := r.db.WithContext(ctx).Model(&model.FeedSeen{}).Where("user_id = ?", userID)
	if !since.IsZero() {
		tx = tx.Where("seen_at >= ?", since.UTC())
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var ids []uint64
	err := tx.Order("seen_at DESC, id DESC").Pluck("image_id", &ids).Error
	return ids, err
}

func (r *SeenRepository) IsSeen(ctx context.Context, userID, imageID uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.FeedSeen{}).
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// RecordSeen 幂等写入；(user_id, image_id) 冲突时保留原记录
func (r *SeenRepository) RecordSeen(ctx context.Context, userID uint64, imageIDs []uint64, at time.Time) error {
	if userID == 0 || len(imageIDs) == 0 {
		return nil
	}
	at = at.UTC()
	seen := make(map[uint64]struct{}, len(imageIDs))
	rows := make([]model.FeedSeen, 0, len(imageIDs))
	for _, id := range imageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, model.FeedSeen{UserID: userID, ImageID: id, SeenAt: at})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500).Error
}

// PurgeSeen 先按时间淘汰，再按数量淘汰最旧的记录
func (r *SeenRepository) PurgeSeen(ctx context.Context, userID uint64, olderThan time.Time, maxCount int) (int64, error) {
	db := r.db.WithContext(ctx)
	var removed int64

	if !olderThan.IsZero() {
		res := db.Where("user_id = ? AND seen_at < ?", userID, olderThan.UTC()).Delete(&model.FeedSeen{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected
	}

	if maxCount > 0 {
		// 第 maxCount+1 新的记录作为阈值，阈值及更旧的全部删除
		var edge model.FeedSeen
		res := db.Where("user_id = ?", userID).
			Order("seen_at DESC, id DESC").
			Offset(maxCount).Limit(1).
			Find(&edge)
		if res.Error != nil {
			return removed, res.Error
		}
		if res.RowsAffected > 0 {
			del := db.Where("user_id = ? AND (seen_at < ? OR (seen_at = ? AND id <= ?))", userID, edge.SeenAt, edge.SeenAt, edge.ID).
				Delete(&model.FeedSeen{})
			if del.Error != nil {
				return removed, del.Error
			}
			removed += del.RowsAffected
		}
	}
	return removed, nil
}

// SweepCandidates 返回 afterUserID 之后需要清理的用户，按 user_id 升序
func (r *SeenRepository) SweepCandidates(ctx context.Context, olderThan time.Time, maxCount int, afterUserID uint64, limit int) ([]uint64, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.FeedSeen{}).
		Select("user_id").
		Where("user_id > ?", afterUserID).
		Group("user_id")
	switch {
	case !olderThan.IsZero() && maxCount > 0:
		tx = tx.Having("MIN(seen_at) < ? OR COUNT(*) > ?", olderThan.UTC(), maxCount)
	case !olderThan.IsZero():
		tx = tx.Having("MIN(seen_at) < ?", olderThan.UTC())
	case maxCount > 0:
		tx = tx.Having("COUNT(*) > ?", maxCount)
	default:
		return nil, nil
	}
	var ids []uint64
	err := tx.Order("user_id").Limit(limit).Pluck("user_id", &ids).Error
	return ids, err
}
