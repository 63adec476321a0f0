package model

import "time"

// Image 观测图片。ID 单调递增，(created_at, id) 构成 feed 的严格全序。
type Image struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement;index:idx_images_created_id,priority:2"`
	UserID       uint64    `gorm:"not null;index:idx_images_user"`
	Category     string    `gorm:"type:varchar(64);not null;index:idx_images_category"`
	ObjectName   string    `gorm:"type:varchar(128);not null"`
	ObserverName string    `gorm:"type:varchar(128);not null"`
	ObservedAt   time.Time `gorm:"not null;index:idx_images_observed_at"`
	Location     string    `gorm:"type:varchar(128)"`
	Filter       string    `gorm:"type:varchar(64)"`
	Telescope    string    `gorm:"type:varchar(128)"`
	Camera       string    `gorm:"type:varchar(128)"`
	Notes        string    `gorm:"type:text"`
	FilePath     string    `gorm:"type:varchar(255)"`
	ThumbPath    string    `gorm:"type:varchar(255)"`
	CreatedAt    time.Time `gorm:"not null;index:idx_images_created_id,priority:1"`
	UpdatedAt    time.Time
}

func (Image) TableName() string { return "images" }
