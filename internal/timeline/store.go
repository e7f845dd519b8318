package timeline

import (
	"context"
	"errors"

	"github.com/d60-Lab/socialfeed/internal/model"
)

// ErrRowNotFound is returned by Store lookups when the row no longer exists.
var ErrRowNotFound = errors.New("row not found")

// Store is the storage collaborator the engine reads from. List methods
// return rows ordered created_at DESC, id DESC with authors (and, for
// reposts, the target post and its author) preloaded.
type Store interface {
	ListPosts(ctx context.Context, q PageQuery) ([]*model.Post, error)
	ListReposts(ctx context.Context, q PageQuery) ([]*model.Repost, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	GetRepost(ctx context.Context, id string) (*model.Repost, error)
}

// FollowingResolver returns the ids a viewer follows (without the viewer).
type FollowingResolver interface {
	ResolveFollowing(ctx context.Context, viewerID string) ([]string, error)
}
