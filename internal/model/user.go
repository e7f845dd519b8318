package model

import "time"

// DefaultIcon is assigned when a profile is created without one.
const DefaultIcon = "icon-cat"

// User 公开资料（timeline 里作为作者投影嵌入）
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email       string    `json:"-" gorm:"type:varchar(255);uniqueIndex"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(64);not null"`
	Icon        string    `json:"icon" gorm:"type:varchar(32);not null"`
	Bio         string    `json:"bio,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
