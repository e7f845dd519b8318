package model

import "time"

// Fan 粉丝关系（B 的粉丝是 A）冗余自 Follow，供粉丝列表与粉丝数读取
type Fan struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);index:idx_fan_user;index:idx_fan_pair,unique;not null"`
	FanID     string    `json:"fan_id" gorm:"type:varchar(36);not null;index:idx_fan_pair,unique"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Fan) TableName() string { return "fans" }
