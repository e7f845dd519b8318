package model

import "time"

// Outbox 变更事件外发盒：与业务写入同事务落地，由 realtime.Relay 投递
type Outbox struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Topic       string    `gorm:"type:varchar(16);not null"` // posts | reposts
	Op          string    `gorm:"type:varchar(8);not null"`  // INSERT | DELETE
	RowID       string    `gorm:"type:varchar(36);not null"`
	PostID      string    `gorm:"type:varchar(36)"`
	AuthorID    string    `gorm:"type:varchar(36)"`
	CreatedAt   time.Time `gorm:"index"`
	Status      string    `gorm:"type:varchar(16);index"` // pending, processing, done
	ProcessedAt *time.Time
}

func (Outbox) TableName() string { return "outbox" }

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)
