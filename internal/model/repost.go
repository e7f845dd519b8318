package model

import "time"

// Repost 转发（UserID 转发了 PostID）
type Repost struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID    string    `json:"post_id" gorm:"type:varchar(36);not null;index:idx_repost_pair,unique"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index:idx_repost_pair,unique;index:idx_repost_user_created,priority:1"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_repost_user_created,priority:2;index:idx_repost_created"`

	// Post 为空表示原帖已删除或作者已解除关联，合并时丢弃
	Post *Post `json:"post,omitempty" gorm:"foreignKey:PostID;references:ID;constraint:OnDelete:CASCADE"`
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

func (Repost) TableName() string { return "reposts" }
