package model

import "time"

// Like 点赞关系（用户 -> 图片），集合语义
type Like struct {
	UserID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	ImageID   uint64 `gorm:"primaryKey;autoIncrement:false;index:idx_like_image"`
	CreatedAt time.Time
}

func (Like) TableName() string { return "likes" }
