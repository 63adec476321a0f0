package model

import "time"

// FeedSeen 已推送记录，每个 (user, image) 至多一条
type FeedSeen struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	UserID  uint64    `gorm:"not null;uniqueIndex:ux_feed_seen_user_image;index:idx_feed_seen_user_seen_at,priority:1"`
	ImageID uint64    `gorm:"not null;uniqueIndex:ux_feed_seen_user_image"`
	SeenAt  time.Time `gorm:"not null;index:idx_feed_seen_user_seen_at,priority:2"`
}

func (FeedSeen) TableName() string { return "feed_seen" }

// All 返回需要迁移的全部模型
func All() []any {
	return []any{&User{}, &Image{}, &Follow{}, &Like{}, &FeedSeen{}}
}
