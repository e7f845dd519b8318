package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

type testEnv struct {
	db      *gorm.DB
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	posts   repository.PostRepository
	reposts repository.RepostRepository
	likes   repository.LikeRepository
	follows repository.FollowRepository
	fans    repository.FanRepository
	users   repository.UserRepository
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = OFF").Error)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &testEnv{
		db:      db,
		mr:      mr,
		rdb:     rdb,
		posts:   repository.NewPostRepository(db),
		reposts: repository.NewRepostRepository(db),
		likes:   repository.NewLikeRepository(db),
		follows: repository.NewFollowRepository(db),
		fans:    repository.NewFanRepository(db),
		users:   repository.NewUserRepository(db),
	}
}

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func (e *testEnv) user(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.User{ID: id, Email: id + "@example.com", DisplayName: "name-" + id, Icon: model.DefaultIcon}).Error)
}

func (e *testEnv) post(t *testing.T, id, author string, sec int) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Post{ID: id, AuthorID: author, Text: "text " + id, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}).Error)
}

func (e *testEnv) repost(t *testing.T, id, postID, user string, sec int) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Repost{ID: id, PostID: postID, UserID: user, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}).Error)
}

func (e *testEnv) counters(t *testing.T, postID string) (likes, reposts int64) {
	t.Helper()
	var p model.Post
	require.NoError(t, e.db.Where("id = ?", postID).First(&p).Error)
	return p.LikesCount, p.RepostsCount
}

func timelineIDs(entries []timeline.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TimelineID
	}
	return ids
}

func TestPostService_CreatePostValidation(t *testing.T) {
	// 校验失败不应触达存储层
	svc := NewPostService(nil, nil)
	ctx := context.Background()

	_, err := svc.CreatePost(ctx, "", "hello")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.CreatePost(ctx, "u1", "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyPost)

	_, err = svc.CreatePost(ctx, "u1", strings.Repeat("あ", MaxPostLength+1))
	assert.ErrorIs(t, err, ErrPostTooLong)
}

func TestPostService_CreatePostAttachesAuthor(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	svc := NewPostService(env.posts, NewProfileService(env.users, env.rdb, time.Minute))

	p, err := svc.CreatePost(context.Background(), "u1", "  "+strings.Repeat("あ", MaxPostLength)+"  ")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("あ", MaxPostLength), p.Text)
	require.NotNil(t, p.Author)
	assert.Equal(t, "name-u1", p.Author.DisplayName)
	assert.Equal(t, model.DefaultIcon, p.Author.Icon)
}

func TestPostService_DeletePost(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.user(t, "u2")
	env.post(t, "p1", "u1", 1)
	svc := NewPostService(env.posts, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeletePost(ctx, "", "p1"), ErrUnauthenticated)
	assert.ErrorIs(t, svc.DeletePost(ctx, "u2", "p1"), ErrForbidden)
	assert.ErrorIs(t, svc.DeletePost(ctx, "u1", "missing"), ErrPostNotFound)
	require.NoError(t, svc.DeletePost(ctx, "u1", "p1"))

	_, err := svc.GetPost(ctx, "p1")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestPostService_FetchUserPosts(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.user(t, "u2")
	env.post(t, "p1", "u1", 1)
	env.post(t, "p2", "u1", 2)
	env.post(t, "p3", "u1", 3)
	env.post(t, "x1", "u2", 4)
	svc := NewPostService(env.posts, nil)
	ctx := context.Background()

	page, next, err := svc.FetchUserPosts(ctx, "u1", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-p3", "post-p2"}, timelineIDs(page))
	require.NotNil(t, next)

	page, next, err = svc.FetchUserPosts(ctx, "u1", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-p1"}, timelineIDs(page))
	assert.Nil(t, next)
}

func TestEngagementService_LikeUnlike(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.post(t, "p1", "u1", 1)
	svc := NewEngagementService(env.posts, env.likes, env.reposts)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Like(ctx, "", "p1"), ErrUnauthenticated)
	assert.ErrorIs(t, svc.Like(ctx, "u1", "missing"), ErrPostNotFound)

	require.NoError(t, svc.Like(ctx, "u1", "p1"))
	assert.ErrorIs(t, svc.Like(ctx, "u1", "p1"), ErrAlreadyLiked)
	liked, err := svc.IsLiked(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.True(t, liked)
	likes, _ := env.counters(t, "p1")
	assert.EqualValues(t, 1, likes)

	require.NoError(t, svc.Unlike(ctx, "u1", "p1"))
	assert.ErrorIs(t, svc.Unlike(ctx, "u1", "p1"), ErrNotLiked)
	likes, _ = env.counters(t, "p1")
	assert.EqualValues(t, 0, likes)
}

func TestEngagementService_RepostUnrepost(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.user(t, "u2")
	env.post(t, "p1", "u1", 1)
	svc := NewEngagementService(env.posts, env.likes, env.reposts)
	ctx := context.Background()

	id, err := svc.Repost(ctx, "u2", "p1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = svc.Repost(ctx, "u2", "p1")
	assert.ErrorIs(t, err, ErrAlreadyReposted)

	ok, err := svc.IsReposted(ctx, "u2", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, reposts := env.counters(t, "p1")
	assert.EqualValues(t, 1, reposts)

	require.NoError(t, svc.Unrepost(ctx, "u2", "p1"))
	assert.ErrorIs(t, svc.Unrepost(ctx, "u2", "p1"), ErrNotReposted)
	_, reposts = env.counters(t, "p1")
	assert.EqualValues(t, 0, reposts)
}

func TestEngagementService_CounterFailureKeepsRow(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.post(t, "p1", "u1", 1)
	svc := NewEngagementService(env.posts, env.likes, env.reposts)
	ctx := context.Background()

	// 帖子行已不在：计数更新落空，但 like 行的删除不回滚
	require.NoError(t, env.likes.Create(ctx, "p1", "u1"))
	require.NoError(t, env.db.Exec("DELETE FROM posts WHERE id = ?", "p1").Error)

	err := svc.Unlike(ctx, "u1", "p1")
	assert.ErrorIs(t, err, ErrPostNotFound)
	liked, err := svc.IsLiked(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.False(t, liked)
}

func TestFollowingResolver_CachesIndex(t *testing.T) {
	env := setupEnv(t)
	r := NewFollowingResolver(env.follows, env.rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, env.follows.Create(ctx, "me", "a"))
	require.NoError(t, env.follows.Create(ctx, "me", "b"))

	ids, err := r.ResolveFollowing(ctx, "me")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.True(t, env.mr.Exists(followingKey("me")))

	// 缓存命中时不再读库
	require.NoError(t, env.follows.Delete(ctx, "me", "a"))
	ids, err = r.ResolveFollowing(ctx, "me")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	r.Invalidate(ctx, "me")
	ids, err = r.ResolveFollowing(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestFollowingResolver_EmptyViewerAndEmptySet(t *testing.T) {
	env := setupEnv(t)
	r := NewFollowingResolver(env.follows, env.rdb, time.Minute)
	ctx := context.Background()

	ids, err := r.ResolveFollowing(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = r.ResolveFollowing(ctx, "loner")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
	assert.False(t, env.mr.Exists(followingKey("loner")))
}

func TestFollowingResolver_RedisDownFallsBackToDB(t *testing.T) {
	env := setupEnv(t)
	r := NewFollowingResolver(env.follows, env.rdb, time.Minute)
	ctx := context.Background()
	require.NoError(t, env.follows.Create(ctx, "me", "a"))

	env.mr.Close()
	ids, err := r.ResolveFollowing(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestProfileService_CacheAndUpdate(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	svc := NewProfileService(env.users, env.rdb, time.Minute)
	ctx := context.Background()

	p, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "name-u1", p.DisplayName)
	assert.True(t, env.mr.Exists(profileKey("u1")))

	profiles, err := svc.GetProfiles(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	_, err = svc.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.UpdateProfile(ctx, "u1", ProfileInput{DisplayName: "  ", Icon: "icon-dog"})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	updated, err := svc.UpdateProfile(ctx, "u1", ProfileInput{DisplayName: " Neko ", Icon: "icon-dog", Bio: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Neko", updated.DisplayName)
	assert.False(t, env.mr.Exists(profileKey("u1")))

	p, err = svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "icon-dog", p.Icon)
}

func TestRelationshipService_FollowFlow(t *testing.T) {
	env := setupEnv(t)
	resolver := NewFollowingResolver(env.follows, env.rdb, time.Minute)
	replicator := NewFanReplicator(env.fans, 16)
	stop := replicator.Start(1)
	svc := NewRelationshipService(env.follows, env.fans, replicator, resolver)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Follow(ctx, "a", "a"), ErrFollowSelf)
	assert.ErrorIs(t, svc.Follow(ctx, "", "b"), ErrUnauthenticated)

	_, err := resolver.ResolveFollowing(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, svc.Follow(ctx, "a", "b"))
	require.NoError(t, svc.Follow(ctx, "a", "c"))
	require.NoError(t, svc.Follow(ctx, "c", "b"))

	ok, err := svc.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	following, err := svc.ListFollowing(ctx, "a", 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, following)

	counts, err := svc.Counts(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, RelationCounts{Following: 0, Followers: 2}, counts)

	// 停止时排空队列，fans 表随之可见
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
	fans, err := svc.ListFans(ctx, "b", 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, fans)

	require.NoError(t, svc.Unfollow(ctx, "a", "b"))
	ok, err = svc.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, env.mr.Exists(followingKey("a")))
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page, size     int
		offset, limit int
	}{
		{0, 0, 0, 10},
		{1, 20, 0, 20},
		{3, 20, 40, 20},
		{2, 500, 100, 100},
	}
	for _, tt := range tests {
		offset, limit := pageBounds(tt.page, tt.size)
		assert.Equal(t, tt.offset, offset)
		assert.Equal(t, tt.limit, limit)
	}
}
