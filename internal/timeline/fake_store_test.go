package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/d60-Lab/socialfeed/internal/model"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func user(id string) *model.User {
	return &model.User{ID: id, DisplayName: "name-" + id, Icon: model.DefaultIcon}
}

func post(id, author string, sec int) *model.Post {
	return &model.Post{ID: id, AuthorID: author, Text: "text " + id, CreatedAt: at(sec), UpdatedAt: at(sec), Author: user(author)}
}

func repost(id, reposter string, p *model.Post, sec int) *model.Repost {
	r := &model.Repost{ID: id, UserID: reposter, CreatedAt: at(sec), User: user(reposter), Post: p}
	if p != nil {
		r.PostID = p.ID
	}
	return r
}

// fakeStore 按数据库语义（作者过滤、keyset 游标、倒序、limit）在内存中回放
type fakeStore struct {
	mu      sync.Mutex
	posts   []*model.Post
	reposts []*model.Repost

	postCalls   int
	repostCalls int
	queries     []PageQuery

	postErr   error
	repostErr error
	getErr    error

	// gate 非空时 List 调用阻塞直到它被关闭
	gate chan struct{}
}

func (f *fakeStore) addPosts(ps ...*model.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, ps...)
}

func (f *fakeStore) addReposts(rs ...*model.Repost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reposts = append(f.reposts, rs...)
}

func (f *fakeStore) wait(ctx context.Context) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func allowed(q PageQuery, author string) bool {
	if q.AuthorIDs == nil {
		return true
	}
	for _, id := range q.AuthorIDs {
		if id == author {
			return true
		}
	}
	return false
}

func (f *fakeStore) ListPosts(ctx context.Context, q PageQuery) ([]*model.Post, error) {
	f.wait(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	f.queries = append(f.queries, q)
	if f.postErr != nil {
		return nil, f.postErr
	}
	var out []*model.Post
	for _, p := range f.posts {
		if !allowed(q, p.AuthorID) {
			continue
		}
		if q.Before != nil && !q.Before.Before(p.CreatedAt, p.ID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) ListReposts(ctx context.Context, q PageQuery) ([]*model.Repost, error) {
	f.wait(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repostCalls++
	f.queries = append(f.queries, q)
	if f.repostErr != nil {
		return nil, f.repostErr
	}
	var out []*model.Repost
	for _, r := range f.reposts {
		if !allowed(q, r.UserID) {
			continue
		}
		if q.Before != nil && !q.Before.Before(r.CreatedAt, r.ID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) GetPost(_ context.Context, id string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrRowNotFound
}

func (f *fakeStore) GetRepost(_ context.Context, id string) (*model.Repost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.reposts {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrRowNotFound
}

type fakeResolver struct {
	ids   map[string][]string
	calls int
	err   error
}

func (r *fakeResolver) ResolveFollowing(_ context.Context, viewerID string) ([]string, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]string(nil), r.ids[viewerID]...), nil
}

func seedPosts(f *fakeStore, prefix, author string, n, startSec int) []*model.Post {
	ps := make([]*model.Post, n)
	for i := 0; i < n; i++ {
		ps[i] = post(fmt.Sprintf("%s%03d", prefix, i), author, startSec+i)
	}
	f.addPosts(ps...)
	return ps
}
