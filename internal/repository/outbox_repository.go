package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialfeed/internal/model"
)

// Outbox topics; they match the realtime table names.
const (
	TopicPosts   = "posts"
	TopicReposts = "reposts"

	OpInsert = "INSERT"
	OpDelete = "DELETE"
)

// writeOutbox 在调用方事务内追加一条变更事件
func writeOutbox(tx *gorm.DB, topic, op, rowID, postID, authorID string) error {
	return tx.Create(&model.Outbox{
		ID:        uuid.New().String(),
		Topic:     topic,
		Op:        op,
		RowID:     rowID,
		PostID:    postID,
		AuthorID:  authorID,
		CreatedAt: time.Now().UTC(),
		Status:    model.OutboxPending,
	}).Error
}

type OutboxRepository interface {
	// Claim 认领一批 pending 事件并置为 processing（postgres 下 SKIP LOCKED）
	Claim(ctx context.Context, limit int) ([]*model.Outbox, error)
	MarkDone(ctx context.Context, ids []string) error
	// Release 投递失败时放回 pending
	Release(ctx context.Context, ids []string) error
	CountPending(ctx context.Context) (int64, error)
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Claim(ctx context.Context, limit int) ([]*model.Outbox, error) {
	var batch []*model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).
			Order("created_at, id").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).
			Where("id IN ? AND status = ?", ids, model.OutboxPending).
			Update("status", model.OutboxProcessing).Error
	})
	if err != nil {
		return nil, err
	}
	for _, b := range batch {
		b.Status = model.OutboxProcessing
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"status": model.OutboxDone, "processed_at": now}).Error
}

func (r *outboxRepository) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id IN ? AND status = ?", ids, model.OutboxProcessing).
		Update("status", model.OutboxPending).Error
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", model.OutboxPending).Count(&cnt).Error
	return cnt, err
}
