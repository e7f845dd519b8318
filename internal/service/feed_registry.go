package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// FeedFactory 为每个调用方构造独立的 Feed
type FeedFactory func() *Feed

// DefaultMaxAnonymousFeeds 匿名（owner 为空）会话的总上限
const DefaultMaxAnonymousFeeds = 256

type feedEntry struct {
	feed     *Feed
	owner    string
	lastSeen time.Time
	// streams 挂着的 live 连接数，非零时不回收
	streams int
}

// FeedRegistry keeps the server-side feeds behind /timeline/sessions. A feed
// belongs to the user that created it; an anonymous feed has owner "".
type FeedRegistry struct {
	newFeed      FeedFactory
	idleTTL      time.Duration
	maxPerOwner  int
	maxAnonymous int

	mu    sync.Mutex
	feeds map[string]*feedEntry
	// reserved 正在首次 fetch、尚未登记的名额
	reserved map[string]int
	now      func() time.Time
}

func NewFeedRegistry(newFeed FeedFactory, idleTTL time.Duration, maxPerOwner int) *FeedRegistry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if maxPerOwner <= 0 {
		maxPerOwner = 8
	}
	return &FeedRegistry{
		newFeed:      newFeed,
		idleTTL:      idleTTL,
		maxPerOwner:  maxPerOwner,
		maxAnonymous: DefaultMaxAnonymousFeeds,
		feeds:        make(map[string]*feedEntry),
		reserved:     make(map[string]int),
		now:          time.Now,
	}
}

// Create builds a feed for owner and runs its first fetch. The owner's slot
// is reserved before fetching, so concurrent creates cannot exceed the
// limit. A failed fetch leaves nothing registered.
func (r *FeedRegistry) Create(ctx context.Context, owner string, opts timeline.Options) (string, *Feed, []timeline.Entry, error) {
	if err := r.reserve(owner); err != nil {
		return "", nil, nil, err
	}

	feed := r.newFeed()
	entries, err := feed.FetchTimeline(ctx, opts)
	if err != nil {
		r.release(owner)
		feed.Close()
		return "", nil, nil, err
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.reserved[owner]--
	if r.reserved[owner] == 0 {
		delete(r.reserved, owner)
	}
	r.feeds[id] = &feedEntry{feed: feed, owner: owner, lastSeen: r.now()}
	r.mu.Unlock()
	return id, feed, entries, nil
}

func (r *FeedRegistry) reserve(owner string) error {
	limit := r.maxPerOwner
	if owner == "" {
		limit = r.maxAnonymous
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.reserved[owner]
	for _, e := range r.feeds {
		if e.owner == owner {
			count++
		}
	}
	if count >= limit {
		return ErrTooManySessions
	}
	r.reserved[owner]++
	return nil
}

func (r *FeedRegistry) release(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved[owner]--
	if r.reserved[owner] <= 0 {
		delete(r.reserved, owner)
	}
}

// Get returns the feed if it exists and belongs to owner. Either miss is
// reported as ErrSessionNotFound.
func (r *FeedRegistry) Get(id, owner string) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.feeds[id]
	if !ok || e.owner != owner {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.feed, nil
}

// Attach marks a live stream on the feed. While any stream is attached the
// feed is not reaped; detach refreshes its idle clock.
func (r *FeedRegistry) Attach(id, owner string) (feed *Feed, detach func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.feeds[id]
	if !ok || e.owner != owner {
		return nil, nil, ErrSessionNotFound
	}
	e.streams++
	e.lastSeen = r.now()

	var once sync.Once
	detach = func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.streams--
			e.lastSeen = r.now()
		})
	}
	return e.feed, detach, nil
}

func (r *FeedRegistry) Remove(id, owner string) error {
	r.mu.Lock()
	e, ok := r.feeds[id]
	if !ok || e.owner != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.feeds, id)
	r.mu.Unlock()

	e.feed.Close()
	return nil
}

func (r *FeedRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// Reap closes feeds idle longer than the TTL and returns how many it closed.
// Feeds with an attached live stream are never idle.
func (r *FeedRegistry) Reap() int {
	cutoff := r.now().Add(-r.idleTTL)
	var stale []*Feed

	r.mu.Lock()
	for id, e := range r.feeds {
		if e.streams == 0 && e.lastSeen.Before(cutoff) {
			stale = append(stale, e.feed)
			delete(r.feeds, id)
		}
	}
	r.mu.Unlock()

	for _, f := range stale {
		f.Close()
	}
	if len(stale) > 0 {
		logger.Info("reaped idle timeline sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Start 周期性回收空闲 feed；返回的函数停止回收并关闭全部 feed
func (r *FeedRegistry) Start(interval time.Duration) func(context.Context) error {
	if interval <= 0 {
		interval = time.Minute
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Reap()
			case <-stopCh:
				return
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stopCh)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.closeAll()
		return nil
	}
}

func (r *FeedRegistry) closeAll() {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for id, e := range r.feeds {
		feeds = append(feeds, e.feed)
		delete(r.feeds, id)
	}
	r.mu.Unlock()
	for _, f := range feeds {
		f.Close()
	}
}
