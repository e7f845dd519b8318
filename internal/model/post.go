package model

import "time"

// Post 原创投稿；计数列由 AdjustCounter 原子更新
type Post struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID     string    `json:"author_id" gorm:"type:varchar(36);index:idx_post_author_created,priority:1;not null"`
	Text         string    `json:"text" gorm:"type:text;not null"`
	LikesCount   int64     `json:"likes_count" gorm:"not null;default:0"`
	RepostsCount int64     `json:"reposts_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_post_author_created,priority:2;index:idx_post_created"`
	UpdatedAt    time.Time `json:"updated_at"`

	Author *User `json:"author,omitempty" gorm:"foreignKey:AuthorID;references:ID"`
}

func (Post) TableName() string { return "posts" }

// Counter columns on posts.
const (
	CounterLikes   = "likes_count"
	CounterReposts = "reposts_count"
)
