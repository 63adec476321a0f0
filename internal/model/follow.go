package model

import (
	"time"
)

// Follow 关注关系（A 关注 B），集合语义
type Follow struct {
	FollowerID uint64 `gorm:"primaryKey;autoIncrement:false"`
	FolloweeID uint64 `gorm:"primaryKey;autoIncrement:false;index:idx_follow_followee"`
	// 复合主键 (follower_id, followee_id)，避免重复关注
	CreatedAt time.Time
}

func (Follow) TableName() string { return "follows" }
