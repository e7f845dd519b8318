package repository

import (
	"context"
	"errors"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

// timelineStore 把 post / repost 仓储组合成 timeline.Store
type timelineStore struct {
	posts   PostRepository
	reposts RepostRepository
}

func NewTimelineStore(posts PostRepository, reposts RepostRepository) timeline.Store {
	return &timelineStore{posts: posts, reposts: reposts}
}

func (s *timelineStore) ListPosts(ctx context.Context, q timeline.PageQuery) ([]*model.Post, error) {
	return s.posts.ListPage(ctx, q)
}

func (s *timelineStore) ListReposts(ctx context.Context, q timeline.PageQuery) ([]*model.Repost, error) {
	return s.reposts.ListPage(ctx, q)
}

func (s *timelineStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	p, err := s.posts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, timeline.ErrRowNotFound
	}
	return p, err
}

func (s *timelineStore) GetRepost(ctx context.Context, id string) (*model.Repost, error) {
	r, err := s.reposts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, timeline.ErrRowNotFound
	}
	return r, err
}
