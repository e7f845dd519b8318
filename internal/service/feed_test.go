package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialfeed/internal/realtime"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

func newTestFeed(env *testEnv, pageSize int) *Feed {
	store := repository.NewTimelineStore(env.posts, env.reposts)
	resolver := NewFollowingResolver(env.follows, env.rdb, time.Minute)
	posts := NewPostService(env.posts, NewProfileService(env.users, env.rdb, time.Minute))
	bus := realtime.NewBus(env.rdb, realtime.BusOptions{QueueSize: 16})
	return NewFeed(store, resolver, posts, bus, pageSize)
}

func TestFeed_FetchAndLoadMore(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.user(t, "u2")
	env.post(t, "p1", "u1", 1)
	env.post(t, "p2", "u2", 2)
	env.post(t, "p3", "u1", 3)
	env.repost(t, "r1", "p1", "u2", 4)

	feed := newTestFeed(env, 2)
	defer feed.Close()
	ctx := context.Background()

	entries, err := feed.FetchTimeline(ctx, timeline.Options{Filter: timeline.FilterAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"repost-r1", "post-p3", "post-p2"}, timelineIDs(entries))
	assert.True(t, feed.HasMore())

	more, err := feed.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-p1"}, timelineIDs(more))
	assert.Equal(t, []string{"repost-r1", "post-p3", "post-p2", "post-p1"}, timelineIDs(feed.Entries()))
	assert.False(t, feed.HasMore())

	more, err = feed.LoadMore(ctx)
	require.NoError(t, err)
	assert.Nil(t, more)
}

func TestFeed_FollowingFilter(t *testing.T) {
	env := setupEnv(t)
	for _, id := range []string{"me", "a", "b"} {
		env.user(t, id)
	}
	env.post(t, "pa", "a", 1)
	env.post(t, "pb", "b", 2)
	env.post(t, "pme", "me", 3)
	env.repost(t, "rb", "pa", "b", 4)
	require.NoError(t, env.follows.Create(context.Background(), "me", "a"))

	feed := newTestFeed(env, 20)
	defer feed.Close()

	entries, err := feed.FetchTimeline(context.Background(), timeline.Options{Filter: timeline.FilterFollowing, UserID: "me"})
	require.NoError(t, err)
	assert.Equal(t, []string{"post-pme", "post-pa"}, timelineIDs(entries))
	assert.False(t, feed.HasMore())
}

func TestFeed_FollowingWithoutViewerIsEmpty(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "a")
	env.post(t, "pa", "a", 1)

	feed := newTestFeed(env, 20)
	defer feed.Close()

	entries, err := feed.FetchTimeline(context.Background(), timeline.Options{Filter: timeline.FilterFollowing})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, feed.HasMore())
}

func TestFeed_CreateAndDeletePost(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "me")
	env.user(t, "other")
	env.post(t, "old", "me", 1)
	env.repost(t, "r-old", "old", "other", 2)

	feed := newTestFeed(env, 20)
	defer feed.Close()
	ctx := context.Background()

	_, err := feed.FetchTimeline(ctx, timeline.Options{Filter: timeline.FilterAll, UserID: "me"})
	require.NoError(t, err)

	_, err = feed.CreatePost(ctx, "   ", "me")
	assert.ErrorIs(t, err, ErrEmptyPost)
	_, err = feed.CreatePost(ctx, "hi", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	entry, err := feed.CreatePost(ctx, "  hello world  ", "me")
	require.NoError(t, err)
	assert.Equal(t, timeline.KindOriginal, entry.Kind)
	assert.Equal(t, "hello world", entry.Post.Text)
	assert.Equal(t, "name-me", entry.Post.Author.DisplayName)

	ids := timelineIDs(feed.Entries())
	require.Len(t, ids, 3)
	assert.Equal(t, entry.TimelineID, ids[0])

	// 删除原帖同时移除其全部转发
	require.NoError(t, feed.DeletePost(ctx, "old"))
	assert.Equal(t, []string{entry.TimelineID}, timelineIDs(feed.Entries()))

	assert.ErrorIs(t, feed.DeletePost(ctx, "old"), ErrPostNotFound)
}

func TestFeed_DeletePostOfOtherUserForbidden(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "me")
	env.user(t, "other")
	env.post(t, "p1", "other", 1)

	feed := newTestFeed(env, 20)
	defer feed.Close()
	ctx := context.Background()

	_, err := feed.FetchTimeline(ctx, timeline.Options{Filter: timeline.FilterAll, UserID: "me"})
	require.NoError(t, err)
	assert.ErrorIs(t, feed.DeletePost(ctx, "p1"), ErrForbidden)
	assert.Len(t, feed.Entries(), 1)
}

func TestFeed_SubscribeAppliesLiveChanges(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "me")
	env.user(t, "a")
	env.post(t, "p1", "a", 1)
	require.NoError(t, env.follows.Create(context.Background(), "me", "a"))

	feed := newTestFeed(env, 20)
	defer feed.Close()
	ctx := context.Background()
	opts := timeline.Options{Filter: timeline.FilterFollowing, UserID: "me"}

	unsubscribe, err := feed.SubscribeToTimeline(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-p1"}, timelineIDs(feed.Entries()))

	env.post(t, "p2", "a", 5)
	env.repost(t, "r1", "p1", "a", 6)
	publisher := realtime.NewBus(env.rdb, realtime.BusOptions{})

	// 订阅就绪前发布的消息会丢，重复发布直到落地（upsert 幂等）
	require.Eventually(t, func() bool {
		_ = publisher.Publish(ctx, realtime.Change{Table: realtime.TablePosts, Op: "INSERT", ID: "p2", PostID: "p2", AuthorID: "a"})
		_ = publisher.Publish(ctx, realtime.Change{Table: realtime.TableReposts, Op: "INSERT", ID: "r1", PostID: "p1", AuthorID: "a"})
		return len(feed.Entries()) == 3
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"repost-r1", "post-p2", "post-p1"}, timelineIDs(feed.Entries()))

	require.NoError(t, publisher.Publish(ctx, realtime.Change{Table: realtime.TableReposts, Op: "DELETE", ID: "r1", PostID: "p1", AuthorID: "a"}))
	require.Eventually(t, func() bool { return len(feed.Entries()) == 2 }, 2*time.Second, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()
}

func TestFeed_SubscribeDropsUnfollowedAuthors(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "me")
	env.user(t, "a")
	env.user(t, "stranger")
	env.post(t, "p1", "a", 1)
	require.NoError(t, env.follows.Create(context.Background(), "me", "a"))

	feed := newTestFeed(env, 20)
	defer feed.Close()
	ctx := context.Background()

	_, err := feed.SubscribeToTimeline(ctx, timeline.Options{Filter: timeline.FilterFollowing, UserID: "me"})
	require.NoError(t, err)

	env.post(t, "ps", "stranger", 5)
	env.post(t, "p2", "a", 6)
	publisher := realtime.NewBus(env.rdb, realtime.BusOptions{})
	require.Eventually(t, func() bool {
		_ = publisher.Publish(ctx, realtime.Change{Table: realtime.TablePosts, Op: "INSERT", ID: "ps", PostID: "ps", AuthorID: "stranger"})
		_ = publisher.Publish(ctx, realtime.Change{Table: realtime.TablePosts, Op: "INSERT", ID: "p2", PostID: "p2", AuthorID: "a"})
		return len(feed.Entries()) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"post-p2", "post-p1"}, timelineIDs(feed.Entries()))
}

func TestFeed_ClosedFeedRejectsWork(t *testing.T) {
	env := setupEnv(t)
	feed := newTestFeed(env, 20)
	feed.Close()
	feed.Close()

	_, err := feed.FetchTimeline(context.Background(), timeline.Options{})
	assert.ErrorIs(t, err, timeline.ErrSessionClosed)
	_, err = feed.SubscribeToTimeline(context.Background(), timeline.Options{})
	assert.ErrorIs(t, err, timeline.ErrSessionClosed)
}

func TestFeedRegistry_OwnershipAndLimits(t *testing.T) {
	env := setupEnv(t)
	env.user(t, "u1")
	env.post(t, "p1", "u1", 1)

	reg := NewFeedRegistry(func() *Feed { return newTestFeed(env, 20) }, time.Minute, 2)
	ctx := context.Background()
	opts := timeline.Options{Filter: timeline.FilterAll, UserID: "u1"}

	id, feed, entries, err := reg.Create(ctx, "u1", opts)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, entries, 1)

	got, err := reg.Get(id, "u1")
	require.NoError(t, err)
	assert.Same(t, feed, got)

	_, err = reg.Get(id, "intruder")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.Remove(id, "intruder"), ErrSessionNotFound)

	_, _, _, err = reg.Create(ctx, "u1", opts)
	require.NoError(t, err)
	_, _, _, err = reg.Create(ctx, "u1", opts)
	assert.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, reg.Remove(id, "u1"))
	assert.Equal(t, 1, reg.Len())
	_, err = reg.Get(id, "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFeedRegistry_ReapIdle(t *testing.T) {
	env := setupEnv(t)
	reg := NewFeedRegistry(func() *Feed { return newTestFeed(env, 20) }, time.Minute, 4)
	now := t0
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	idle, idleFeed, _, err := reg.Create(ctx, "", timeline.Options{})
	require.NoError(t, err)
	now = now.Add(50 * time.Second)
	active, _, _, err := reg.Create(ctx, "", timeline.Options{})
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, reg.Reap())

	_, err = reg.Get(idle, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = reg.Get(active, "")
	require.NoError(t, err)
	_, err = idleFeed.FetchTimeline(ctx, timeline.Options{})
	assert.ErrorIs(t, err, timeline.ErrSessionClosed)
}

func TestFeedRegistry_AttachedStreamIsNotReaped(t *testing.T) {
	env := setupEnv(t)
	reg := NewFeedRegistry(func() *Feed { return newTestFeed(env, 20) }, time.Minute, 4)
	now := t0
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	id, feed, _, err := reg.Create(ctx, "u1", timeline.Options{})
	require.NoError(t, err)
	got, detach, err := reg.Attach(id, "u1")
	require.NoError(t, err)
	assert.Same(t, feed, got)

	_, _, err = reg.Attach(id, "intruder")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// live 连接一直挂着，超过 TTL 也不回收
	now = now.Add(10 * time.Minute)
	assert.Equal(t, 0, reg.Reap())
	select {
	case <-feed.Done():
		t.Fatal("attached feed was closed")
	default:
	}

	detach()
	detach()
	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, reg.Reap(), "detach refreshes the idle clock")

	now = now.Add(time.Minute)
	assert.Equal(t, 1, reg.Reap())
	select {
	case <-feed.Done():
	case <-time.After(time.Second):
		t.Fatal("reaped feed not closed")
	}
}

func TestFeedRegistry_InFlightCreateHoldsSlot(t *testing.T) {
	env := setupEnv(t)
	reg := NewFeedRegistry(func() *Feed { return newTestFeed(env, 20) }, time.Minute, 2)
	ctx := context.Background()

	_, _, _, err := reg.Create(ctx, "u1", timeline.Options{})
	require.NoError(t, err)

	// 另一个 create 正在首次 fetch，名额已被占用
	require.NoError(t, reg.reserve("u1"))
	_, _, _, err = reg.Create(ctx, "u1", timeline.Options{})
	assert.ErrorIs(t, err, ErrTooManySessions)

	reg.release("u1")
	_, _, _, err = reg.Create(ctx, "u1", timeline.Options{})
	require.NoError(t, err)
	assert.Empty(t, reg.reserved)
}

func TestFeedRegistry_FailedCreateReleasesSlot(t *testing.T) {
	env := setupEnv(t)
	reg := NewFeedRegistry(func() *Feed { return newTestFeed(env, 20) }, time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := reg.Create(ctx, "u1", timeline.Options{})
	require.Error(t, err)
	assert.Empty(t, reg.reserved)
	assert.Equal(t, 0, reg.Len())

	_, _, _, err = reg.Create(context.Background(), "u1", timeline.Options{})
	require.NoError(t, err)
}

func TestFeedRegistry_AnonymousLimit(t *testing.T) {
	env := setupEnv(t)
	reg := NewFeedRegistry(func() *Feed { return newTestFeed(env, 20) }, time.Minute, 1)
	reg.maxAnonymous = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, _, err := reg.Create(ctx, "", timeline.Options{})
		require.NoError(t, err)
	}
	_, _, _, err := reg.Create(ctx, "", timeline.Options{})
	assert.ErrorIs(t, err, ErrTooManySessions)

	// 匿名上限与登录用户互不影响
	_, _, _, err = reg.Create(ctx, "u1", timeline.Options{})
	require.NoError(t, err)
}
