package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
)

// EngagementService 点赞与转发。先写关联行，再调整计数；
// 计数失败时关联行不回滚，错误原样返回。
type EngagementService struct {
	posts   repository.PostRepository
	likes   repository.LikeRepository
	reposts repository.RepostRepository
}

func NewEngagementService(posts repository.PostRepository, likes repository.LikeRepository, reposts repository.RepostRepository) *EngagementService {
	return &EngagementService{posts: posts, likes: likes, reposts: reposts}
}

func (s *EngagementService) Like(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := s.ensurePost(ctx, postID); err != nil {
		return err
	}
	err := s.likes.Create(ctx, postID, userID)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return ErrAlreadyLiked
	}
	if err != nil {
		return fmt.Errorf("insert like: %w", err)
	}
	return s.adjust(ctx, postID, model.CounterLikes, 1)
}

func (s *EngagementService) Unlike(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	err := s.likes.Delete(ctx, postID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotLiked
	}
	if err != nil {
		return fmt.Errorf("delete like: %w", err)
	}
	return s.adjust(ctx, postID, model.CounterLikes, -1)
}

func (s *EngagementService) IsLiked(ctx context.Context, userID, postID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return s.likes.Exists(ctx, postID, userID)
}

// Repost returns the new repost row id.
func (s *EngagementService) Repost(ctx context.Context, userID, postID string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if err := s.ensurePost(ctx, postID); err != nil {
		return "", err
	}
	r, err := s.reposts.Create(ctx, postID, userID)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return "", ErrAlreadyReposted
	}
	if err != nil {
		return "", fmt.Errorf("insert repost: %w", err)
	}
	return r.ID, s.adjust(ctx, postID, model.CounterReposts, 1)
}

func (s *EngagementService) Unrepost(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	_, err := s.reposts.Delete(ctx, postID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotReposted
	}
	if err != nil {
		return fmt.Errorf("delete repost: %w", err)
	}
	return s.adjust(ctx, postID, model.CounterReposts, -1)
}

func (s *EngagementService) IsReposted(ctx context.Context, userID, postID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return s.reposts.Exists(ctx, postID, userID)
}

func (s *EngagementService) ensurePost(ctx context.Context, postID string) error {
	_, err := s.posts.GetByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	return err
}

func (s *EngagementService) adjust(ctx context.Context, postID, column string, delta int) error {
	err := s.posts.AdjustCounter(ctx, postID, column, delta)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return fmt.Errorf("adjust %s: %w", column, err)
	}
	return nil
}
