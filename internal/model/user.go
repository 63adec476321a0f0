package model

import "time"

// User 用户（仅 feed 渲染所需字段）
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"type:varchar(80);uniqueIndex;not null"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	Bio          string    `gorm:"type:text"`
	CreatedAt    time.Time
}

func (User) TableName() string { return "users" }
