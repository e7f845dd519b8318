package model

import "time"

// Like 点赞关系，(post_id, user_id) 唯一
type Like struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID    string    `json:"post_id" gorm:"type:varchar(36);not null;index:idx_like_pair,unique"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index:idx_like_pair,unique"`
	CreatedAt time.Time `json:"created_at"`
}

func (Like) TableName() string { return "likes" }
