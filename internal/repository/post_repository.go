package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

type PostRepository interface {
	// Create 事务内写入 post 与 outbox INSERT 事件
	Create(ctx context.Context, authorID, text string) (*model.Post, error)
	GetByID(ctx context.Context, id string) (*model.Post, error)
	// Delete 删除 post 及其转发、点赞，并写 outbox DELETE 事件
	Delete(ctx context.Context, id string) error
	ListPage(ctx context.Context, q timeline.PageQuery) ([]*model.Post, error)
	ListByAuthor(ctx context.Context, authorID string, before *timeline.Cursor, limit int) ([]*model.Post, error)
	// AdjustCounter 原子增减计数列，结果不低于 0
	AdjustCounter(ctx context.Context, postID, column string, delta int) error
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func selectAuthor(db *gorm.DB) *gorm.DB {
	return db.Select("id", "display_name", "icon")
}

func applyKeyset(tx *gorm.DB, before *timeline.Cursor) *gorm.DB {
	if before == nil {
		return tx
	}
	return tx.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.At, before.At, before.ID)
}

func (r *postRepository) Create(ctx context.Context, authorID, text string) (*model.Post, error) {
	now := time.Now().UTC()
	post := &model.Post{ID: uuid.New().String(), AuthorID: authorID, Text: text, CreatedAt: now, UpdatedAt: now}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		return writeOutbox(tx, TopicPosts, OpInsert, post.ID, post.ID, authorID)
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var post model.Post
	err := r.db.WithContext(ctx).
		Preload("Author", selectAuthor).
		Where("id = ?", id).
		First(&post).Error
	if err != nil {
		return nil, translate(err)
	}
	return &post, nil
}

func (r *postRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post model.Post
		if err := tx.Select("id", "author_id").Where("id = ?", id).First(&post).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("post_id = ?", id).Delete(&model.Repost{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&model.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Post{}, "id = ?", id).Error; err != nil {
			return err
		}
		return writeOutbox(tx, TopicPosts, OpDelete, id, id, post.AuthorID)
	})
}

func (r *postRepository) ListPage(ctx context.Context, q timeline.PageQuery) ([]*model.Post, error) {
	tx := r.db.WithContext(ctx).Preload("Author", selectAuthor)
	if q.AuthorIDs != nil {
		tx = tx.Where("author_id IN ?", q.AuthorIDs)
	}
	tx = applyKeyset(tx, q.Before)

	var posts []*model.Post
	err := tx.Order("created_at DESC, id DESC").Limit(q.Limit).Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, before *timeline.Cursor, limit int) ([]*model.Post, error) {
	return r.ListPage(ctx, timeline.PageQuery{AuthorIDs: []string{authorID}, Before: before, Limit: limit})
}

func (r *postRepository) AdjustCounter(ctx context.Context, postID, column string, delta int) error {
	if column != model.CounterLikes && column != model.CounterReposts {
		return fmt.Errorf("unknown counter column %q", column)
	}
	expr := gorm.Expr("CASE WHEN "+column+" + ? < 0 THEN 0 ELSE "+column+" + ? END", delta, delta)
	res := r.db.WithContext(ctx).Model(&model.Post{}).Where("id = ?", postID).UpdateColumn(column, expr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
