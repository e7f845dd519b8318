package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

type RepostRepository interface {
	// Create 写入转发与 outbox 事件；重复转发返回 ErrAlreadyExists
	Create(ctx context.Context, postID, userID string) (*model.Repost, error)
	// Delete 按 (post, user) 删除；返回被删除的转发 id
	Delete(ctx context.Context, postID, userID string) (string, error)
	GetByID(ctx context.Context, id string) (*model.Repost, error)
	Exists(ctx context.Context, postID, userID string) (bool, error)
	ListPage(ctx context.Context, q timeline.PageQuery) ([]*model.Repost, error)
}

type repostRepository struct{ db *gorm.DB }

func NewRepostRepository(db *gorm.DB) RepostRepository { return &repostRepository{db: db} }

func preloadRepost(tx *gorm.DB) *gorm.DB {
	return tx.Preload("User", selectAuthor).
		Preload("Post").
		Preload("Post.Author", selectAuthor)
}

func (r *repostRepository) Create(ctx context.Context, postID, userID string) (*model.Repost, error) {
	repost := &model.Repost{ID: uuid.New().String(), PostID: postID, UserID: userID, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(repost)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyExists
		}
		return writeOutbox(tx, TopicReposts, OpInsert, repost.ID, postID, userID)
	})
	if err != nil {
		return nil, err
	}
	return repost, nil
}

func (r *repostRepository) Delete(ctx context.Context, postID, userID string) (string, error) {
	var id string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var repost model.Repost
		if err := tx.Where("post_id = ? AND user_id = ?", postID, userID).First(&repost).Error; err != nil {
			return translate(err)
		}
		if err := tx.Delete(&model.Repost{}, "id = ?", repost.ID).Error; err != nil {
			return err
		}
		id = repost.ID
		return writeOutbox(tx, TopicReposts, OpDelete, repost.ID, postID, userID)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *repostRepository) GetByID(ctx context.Context, id string) (*model.Repost, error) {
	var repost model.Repost
	if err := preloadRepost(r.db.WithContext(ctx)).Where("id = ?", id).First(&repost).Error; err != nil {
		return nil, translate(err)
	}
	return &repost, nil
}

func (r *repostRepository) Exists(ctx context.Context, postID, userID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Repost{}).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Count(&cnt).Error
	return cnt > 0, err
}

// ListPage 的作者过滤作用于转发者
func (r *repostRepository) ListPage(ctx context.Context, q timeline.PageQuery) ([]*model.Repost, error) {
	tx := preloadRepost(r.db.WithContext(ctx))
	if q.AuthorIDs != nil {
		tx = tx.Where("user_id IN ?", q.AuthorIDs)
	}
	tx = applyKeyset(tx, q.Before)

	var reposts []*model.Repost
	err := tx.Order("created_at DESC, id DESC").Limit(q.Limit).Find(&reposts).Error
	return reposts, err
}
