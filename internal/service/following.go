package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/cache"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// FollowingResolver 解析 viewer 的关注集合，redis list 做索引缓存。
// 缓存只影响之后新建的 session；已存在的 session 持有自己解析到的集合。
type FollowingResolver struct {
	follows repository.FollowRepository
	cache   *redis.Client
	ttl     time.Duration
}

func NewFollowingResolver(follows repository.FollowRepository, cache *redis.Client, ttl time.Duration) *FollowingResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FollowingResolver{follows: follows, cache: cache, ttl: ttl}
}

func followingKey(viewerID string) string { return fmt.Sprintf("following:index:%s", viewerID) }

// ResolveFollowing costs one round trip: a redis hit, or a DB query on miss.
func (r *FollowingResolver) ResolveFollowing(ctx context.Context, viewerID string) ([]string, error) {
	if viewerID == "" {
		return []string{}, nil
	}
	key := followingKey(viewerID)
	if r.cache != nil {
		ids, err := r.cache.LRange(ctx, key, 0, -1).Result()
		if err == nil && len(ids) > 0 {
			return ids, nil
		}
		if err != nil {
			logger.Warn("following index read failed", zap.String("viewer", viewerID), zap.Error(err))
		}
	}

	ids, err := r.follows.ListFollowingIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	// 空集合不缓存，redis 不存空 list
	if r.cache != nil && len(ids) > 0 {
		pipe := r.cache.Pipeline()
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, cache.InterfaceSlice(ids)...)
		pipe.Expire(ctx, key, r.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("following index write failed", zap.String("viewer", viewerID), zap.Error(err))
		}
	}
	return ids, nil
}

// Invalidate drops the cached index after a follow change.
func (r *FollowingResolver) Invalidate(ctx context.Context, viewerID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, followingKey(viewerID)).Err(); err != nil {
		logger.Warn("following index invalidate failed", zap.String("viewer", viewerID), zap.Error(err))
	}
}
