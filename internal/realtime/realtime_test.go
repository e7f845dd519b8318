package realtime

import (
	"context"
	"errors"
	"sync"
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

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func waitReady(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never became ready")
	}
}

func TestChangeEvent(t *testing.T) {
	ev, ok := Change{Table: TableReposts, Op: "INSERT", ID: "r1", PostID: "p1", AuthorID: "u2"}.Event()
	require.True(t, ok)
	assert.Equal(t, timeline.KindRepost, ev.Kind)
	assert.Equal(t, timeline.OpInsert, ev.Op)
	assert.Equal(t, "u2", ev.AuthorID)

	ev, ok = Change{Table: TablePosts, Op: "DELETE", ID: "p1"}.Event()
	require.True(t, ok)
	assert.Equal(t, timeline.KindOriginal, ev.Kind)

	_, ok = Change{Table: "likes", Op: "INSERT"}.Event()
	assert.False(t, ok)
	_, ok = Change{Table: TablePosts, Op: "UPDATE"}.Event()
	assert.False(t, ok)
}

func TestBus_PublishSubscribe(t *testing.T) {
	_, rdb := setupRedis(t)
	bus := NewBus(rdb, BusOptions{QueueSize: 4})
	ctx := context.Background()

	sub := bus.Subscribe(ctx, TablePosts)
	defer sub.Close()
	waitReady(t, sub)

	require.NoError(t, bus.Publish(ctx, Change{Table: TableReposts, Op: "INSERT", ID: "r1"}))
	require.NoError(t, bus.Publish(ctx, Change{Table: TablePosts, Op: "INSERT", ID: "p1", AuthorID: "u1"}))

	select {
	case c := <-sub.C:
		assert.Equal(t, "p1", c.ID, "only subscribed tables are delivered")
		assert.Equal(t, "u1", c.AuthorID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestBus_CloseClosesChannel(t *testing.T) {
	_, rdb := setupRedis(t)
	sub := NewBus(rdb, BusOptions{}).Subscribe(context.Background(), TablePosts, TableReposts)
	waitReady(t, sub)
	require.NoError(t, sub.Close())

	_, open := <-sub.C
	assert.False(t, open)
}

func TestBus_MalformedPayloadIsSkipped(t *testing.T) {
	mr, rdb := setupRedis(t)
	bus := NewBus(rdb, BusOptions{})
	ctx := context.Background()
	sub := bus.Subscribe(ctx, TablePosts)
	defer sub.Close()
	waitReady(t, sub)

	mr.Publish(Channel(TablePosts), "{not json")
	require.NoError(t, bus.Publish(ctx, Change{Table: TablePosts, Op: "DELETE", ID: "p2"}))

	select {
	case c := <-sub.C:
		assert.Equal(t, "p2", c.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
	failIDs map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, c Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failIDs[c.ID] {
		return errors.New("redis unavailable")
	}
	p.changes = append(p.changes, c)
	return nil
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRelay_ProcessOnce(t *testing.T) {
	db := setupDB(t)
	posts := repository.NewPostRepository(db)
	outbox := repository.NewOutboxRepository(db)
	ctx := context.Background()

	p1, err := posts.Create(ctx, "u1", "one")
	require.NoError(t, err)
	p2, err := posts.Create(ctx, "u1", "two")
	require.NoError(t, err)

	pub := &recordingPublisher{failIDs: map[string]bool{p2.ID: true}}
	relay := NewRelay(outbox, pub, 1, 10, time.Millisecond)

	n, err := relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.changes, 1)
	assert.Equal(t, Change{Table: TablePosts, Op: "INSERT", ID: p1.ID, PostID: p1.ID, AuthorID: "u1", At: pub.changes[0].At}, pub.changes[0])

	pending, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "failed publish goes back to pending")

	pub.mu.Lock()
	pub.failIDs = nil
	pub.mu.Unlock()
	n, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case d := <-relay.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	default:
		t.Fatal("expected a latency sample")
	}
}

func TestRelay_EndToEndThroughRedis(t *testing.T) {
	db := setupDB(t)
	_, rdb := setupRedis(t)
	bus := NewBus(rdb, BusOptions{})
	ctx := context.Background()

	sub := bus.Subscribe(ctx, TablePosts, TableReposts)
	defer sub.Close()
	waitReady(t, sub)

	relay := NewRelay(repository.NewOutboxRepository(db), bus, 1, 10, 5*time.Millisecond)
	stop := relay.Start()
	defer func() { _ = stop(context.Background()) }()

	p, err := repository.NewPostRepository(db).Create(ctx, "u1", "hi")
	require.NoError(t, err)
	r, err := repository.NewRepostRepository(db).Create(ctx, p.ID, "u2")
	require.NoError(t, err)

	got := map[string]Change{}
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case c := <-sub.C:
			got[c.ID] = c
		case <-deadline:
			t.Fatalf("received %d of 2 changes", len(got))
		}
	}
	assert.Equal(t, TablePosts, got[p.ID].Table)
	assert.Equal(t, TableReposts, got[r.ID].Table)
	assert.Equal(t, "u2", got[r.ID].AuthorID)
}
