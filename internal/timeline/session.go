package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

var (
	ErrFetchInFlight = errors.New("timeline fetch already in flight")
	ErrSessionClosed = errors.New("timeline session closed")
	// ErrSuperseded 结果返回时 session 已被新的 Fetch 替换，结果被丢弃
	ErrSuperseded = errors.New("timeline result superseded")
)

// Options 一个 timeline 视图的配置
type Options struct {
	Filter Filter
	UserID string
}

// State is a copy of the session's bookkeeping.
type State struct {
	Filter       Filter
	ViewerID     string
	FollowingIDs []string
	PostCursor   *Cursor
	RepostCursor *Cursor
	HasMore      bool
	Entries      []Entry
}

// Session holds one timeline configuration and its merged entries. All
// mutation goes through Fetch, LoadMore, Apply and the Remove methods.
type Session struct {
	store    Store
	resolver FollowingResolver
	pageSize int

	mu           sync.Mutex
	filter       Filter
	viewerID     string
	following    []string
	followingSet map[string]struct{}
	postCursor   *Cursor
	repostCursor *Cursor
	entries      []Entry

	fetching   bool
	appending  bool
	generation uint64
	closed     bool

	updates chan struct{}
}

type SessionOption func(*Session)

func WithPageSize(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewSession(store Store, resolver FollowingResolver, opts ...SessionOption) *Session {
	s := &Session{
		store:    store,
		resolver: resolver,
		pageSize: DefaultPageSize,
		updates:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Updates receives a signal after every state change. Signals coalesce.
func (s *Session) Updates() <-chan struct{} { return s.updates }

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Fetch runs the initial fetch for opts and replaces the whole state.
func (s *Session) Fetch(ctx context.Context, opts Options) ([]Entry, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.fetching {
		s.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	s.fetching = true
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.fetching = false
		s.mu.Unlock()
	}()

	var following []string
	if opts.Filter == FilterFollowing && opts.UserID != "" {
		ids, err := s.resolver.ResolveFollowing(ctx, opts.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve following: %w", err)
		}
		following = withViewer(ids, opts.UserID)
	}

	postQ, postOK := BuildPageQuery(opts.Filter, opts.UserID, nil, following, s.pageSize)
	repostQ, repostOK := BuildPageQuery(opts.Filter, opts.UserID, nil, following, s.pageSize)

	posts, reposts, err := s.fetchPages(ctx, postQ, postOK, repostQ, repostOK)
	if err != nil {
		return nil, err
	}
	page := Merge(posts, reposts, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	// 提交时再推进一次，提交前读取旧状态的 LoadMore 一律作废
	s.generation++
	s.filter = opts.Filter
	s.viewerID = opts.UserID
	s.following = following
	s.followingSet = toSet(following)
	s.postCursor = page.PostCursor
	s.repostCursor = page.RepostCursor
	s.entries = page.Entries
	s.notify()

	logger.Debug("timeline fetched",
		zap.String("filter", opts.Filter.String()),
		zap.String("viewer", opts.UserID),
		zap.Int("entries", len(page.Entries)),
		zap.Bool("has_more", page.HasMore()),
	)
	return cloneEntries(page.Entries), nil
}

// LoadMore fetches the next page of every source that still has a cursor and
// merges it in. It is a no-op when nothing is left, another LoadMore is
// running, or a Fetch is about to replace the state. On error the state is
// untouched.
func (s *Session) LoadMore(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.fetching || s.appending || (s.postCursor == nil && s.repostCursor == nil) {
		s.mu.Unlock()
		return nil, nil
	}
	s.appending = true
	gen := s.generation
	filter, viewerID, following := s.filter, s.viewerID, s.following
	postCursor, repostCursor := s.postCursor, s.repostCursor
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.appending = false
		s.mu.Unlock()
	}()

	var postQ, repostQ PageQuery
	var postOK, repostOK bool
	if postCursor != nil {
		postQ, postOK = BuildPageQuery(filter, viewerID, postCursor, following, s.pageSize)
	}
	if repostCursor != nil {
		repostQ, repostOK = BuildPageQuery(filter, viewerID, repostCursor, following, s.pageSize)
	}

	posts, reposts, err := s.fetchPages(ctx, postQ, postOK, repostQ, repostOK)
	if err != nil {
		return nil, err
	}
	page := Merge(posts, reposts, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	s.entries = upsert(s.entries, page.Entries)
	s.postCursor = page.PostCursor
	s.repostCursor = page.RepostCursor
	s.notify()
	return cloneEntries(page.Entries), nil
}

// fetchPages 并发拉取两个来源；skipped 的来源返回空页
func (s *Session) fetchPages(ctx context.Context, postQ PageQuery, postOK bool, repostQ PageQuery, repostOK bool) ([]*model.Post, []*model.Repost, error) {
	var (
		wg        sync.WaitGroup
		posts     []*model.Post
		reposts   []*model.Repost
		postErr   error
		repostErr error
	)
	if postOK {
		wg.Add(1)
		go func() {
			defer wg.Done()
			posts, postErr = s.store.ListPosts(ctx, postQ)
		}()
	}
	if repostOK {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reposts, repostErr = s.store.ListReposts(ctx, repostQ)
		}()
	}
	wg.Wait()

	if postErr != nil {
		return nil, nil, fmt.Errorf("list posts: %w", postErr)
	}
	if repostErr != nil {
		return nil, nil, fmt.Errorf("list reposts: %w", repostErr)
	}
	return posts, reposts, nil
}

func (s *Session) acceptsLocked(authorID string) bool {
	if s.filter != FilterFollowing {
		return true
	}
	_, ok := s.followingSet[authorID]
	return ok
}

// Apply replaces-or-inserts entries by timeline_id and re-sorts. Entries the
// session's filter excludes are discarded. It returns how many were applied.
func (s *Session) Apply(entries ...Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	accepted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if s.acceptsLocked(e.FilterAuthorID()) {
			accepted = append(accepted, e)
		}
	}
	if len(accepted) == 0 {
		return 0
	}
	s.entries = upsert(s.entries, accepted)
	s.notify()
	return len(accepted)
}

// RemovePost drops the ORIGINAL entry of postID and every REPOST of it.
func (s *Session) RemovePost(postID string) int {
	return s.remove(func(e Entry) bool { return e.Post.ID == postID })
}

// RemoveRepost drops only repost-<repostID>.
func (s *Session) RemoveRepost(repostID string) int {
	id := RepostTimelineID(repostID)
	return s.remove(func(e Entry) bool { return e.TimelineID == id })
}

func (s *Session) remove(drop func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	var n int
	s.entries, n = removeWhere(s.entries, drop)
	if n > 0 {
		s.notify()
	}
	return n
}

func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.postCursor != nil || s.repostCursor != nil
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Filter:       s.filter,
		ViewerID:     s.viewerID,
		FollowingIDs: append([]string(nil), s.following...),
		HasMore:      s.postCursor != nil || s.repostCursor != nil,
		Entries:      cloneEntries(s.entries),
	}
	if s.postCursor != nil {
		c := *s.postCursor
		st.PostCursor = &c
	}
	if s.repostCursor != nil {
		c := *s.repostCursor
		st.RepostCursor = &c
	}
	return st
}

// Close marks the session dead; in-flight results that land afterwards are
// dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.entries = nil
	s.postCursor, s.repostCursor = nil, nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func withViewer(ids []string, viewerID string) []string {
	out := make([]string, 0, len(ids)+1)
	hasViewer := false
	for _, id := range ids {
		if id == viewerID {
			hasViewer = true
		}
		out = append(out, id)
	}
	if !hasViewer {
		out = append(out, viewerID)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
