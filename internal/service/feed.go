package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/realtime"
	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Subscriber 实时变更来源（realtime.Bus）
type Subscriber interface {
	Subscribe(ctx context.Context, tables ...string) *realtime.Subscription
}

// Feed is the per-caller timeline facade. Each Feed owns one session and at
// most one live subscription; nothing is shared between feeds.
type Feed struct {
	session *timeline.Session
	posts   *PostService
	sub     Subscriber

	mu      sync.Mutex
	opts    timeline.Options
	fetched bool
	unsub   func()
	closed  bool
	done    chan struct{}
}

func NewFeed(store timeline.Store, resolver timeline.FollowingResolver, posts *PostService, sub Subscriber, pageSize int) *Feed {
	return &Feed{
		session: timeline.NewSession(store, resolver, timeline.WithPageSize(pageSize)),
		posts:   posts,
		sub:     sub,
		done:    make(chan struct{}),
	}
}

// guard 把 panic 转成错误，不让它越过 facade
func guard(op string, err *error) {
	if r := recover(); r != nil {
		logger.Error("feed panic recovered",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
		*err = fmt.Errorf("%s: panic: %v", op, r)
	}
}

// FetchTimeline replaces the session state with the first page for opts.
func (f *Feed) FetchTimeline(ctx context.Context, opts timeline.Options) (entries []timeline.Entry, err error) {
	defer guard("fetch timeline", &err)

	entries, err = f.session.Fetch(ctx, opts)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.opts = opts
	f.fetched = true
	f.mu.Unlock()
	return entries, nil
}

// LoadMore appends the next page. It returns nil, nil when nothing is left
// or another append is running.
func (f *Feed) LoadMore(ctx context.Context) (entries []timeline.Entry, err error) {
	defer guard("load more", &err)
	return f.session.LoadMore(ctx)
}

// CreatePost inserts a post as userID and puts its ORIGINAL entry into the
// session right away, ahead of the live echo.
func (f *Feed) CreatePost(ctx context.Context, text, userID string) (entry *timeline.Entry, err error) {
	defer guard("create post", &err)

	p, err := f.posts.CreatePost(ctx, userID, text)
	if err != nil {
		return nil, err
	}
	e, ok := timeline.FromPost(p)
	if !ok {
		return nil, fmt.Errorf("create post: unusable row %q", p.ID)
	}
	f.session.Apply(e)
	return &e, nil
}

// DeletePost deletes postID as the session's viewer and drops its entries.
func (f *Feed) DeletePost(ctx context.Context, postID string) (err error) {
	defer guard("delete post", &err)

	f.mu.Lock()
	viewer := f.opts.UserID
	f.mu.Unlock()

	if err := f.posts.DeletePost(ctx, viewer, postID); err != nil {
		return err
	}
	f.session.RemovePost(postID)
	return nil
}

// SubscribeToTimeline makes sure the session shows opts (fetching when it
// does not yet) and then feeds live changes into it. A previous subscription
// of this feed is replaced. The returned func is safe to call more than once.
func (f *Feed) SubscribeToTimeline(ctx context.Context, opts timeline.Options) (unsubscribe func(), err error) {
	defer guard("subscribe timeline", &err)

	if f.sub == nil {
		return nil, fmt.Errorf("subscribe timeline: no realtime source")
	}

	f.mu.Lock()
	closed := f.closed
	needFetch := !f.fetched || f.opts != opts
	f.mu.Unlock()
	if closed {
		return nil, timeline.ErrSessionClosed
	}
	if needFetch {
		if _, err := f.FetchTimeline(ctx, opts); err != nil {
			return nil, err
		}
	}

	// 订阅生命周期由 unsubscribe 控制，不跟随调用方的 ctx
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := f.sub.Subscribe(subCtx, realtime.TablePosts, realtime.TableReposts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.pump(subCtx, s)
	}()

	var once sync.Once
	unsubscribe = func() {
		once.Do(func() {
			cancel()
			_ = s.Close()
			<-done
		})
	}

	f.mu.Lock()
	prev := f.unsub
	f.unsub = unsubscribe
	f.mu.Unlock()
	if prev != nil {
		prev()
	}
	return unsubscribe, nil
}

// pump 把 realtime.Change 转成 timeline.Event 交给 session.Consume
func (f *Feed) pump(ctx context.Context, s *realtime.Subscription) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("live pump panic recovered", zap.Any("panic", r))
		}
	}()
	events := make(chan timeline.Event)
	go func() {
		defer close(events)
		for c := range s.C {
			ev, ok := c.Event()
			if !ok {
				logger.Debug("skip unknown live change", zap.String("table", c.Table), zap.String("op", c.Op))
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	f.session.Consume(ctx, events)
}

// Close stops the live subscription and discards the session.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	unsub := f.unsub
	f.unsub = nil
	close(f.done)
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	f.session.Close()
}

func (f *Feed) Entries() []timeline.Entry { return f.session.Entries() }
func (f *Feed) HasMore() bool             { return f.session.HasMore() }
func (f *Feed) Snapshot() timeline.State  { return f.session.Snapshot() }

// Done is closed once the feed is closed.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Updates signals after each session change; see timeline.Session.Updates.
func (f *Feed) Updates() <-chan struct{} { return f.session.Updates() }

// Options returns the options of the last successful fetch.
func (f *Feed) Options() timeline.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}
