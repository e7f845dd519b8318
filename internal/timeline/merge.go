package timeline

import (
	"sort"

	"github.com/d60-Lab/socialfeed/internal/model"
)

// Page 一次合并的结果：排好序的 entries 与两个来源各自的下一页游标
type Page struct {
	Entries      []Entry
	PostCursor   *Cursor
	RepostCursor *Cursor
}

func (p Page) HasMore() bool {
	return p.PostCursor != nil || p.RepostCursor != nil
}

// Merge adapts one page from each source into a single ordered sequence.
// Cursors are derived from the raw row counts, so dropped reposts still count
// toward a full page.
func Merge(posts []*model.Post, reposts []*model.Repost, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	entries := adapt(posts, reposts)
	sortEntries(entries)

	page := Page{Entries: entries}
	if len(posts) == pageSize {
		last := posts[len(posts)-1]
		page.PostCursor = &Cursor{At: last.CreatedAt, ID: last.ID}
	}
	if len(reposts) == pageSize {
		last := reposts[len(reposts)-1]
		page.RepostCursor = &Cursor{At: last.CreatedAt, ID: last.ID}
	}
	return page
}

func adapt(posts []*model.Post, reposts []*model.Repost) []Entry {
	entries := make([]Entry, 0, len(posts)+len(reposts))
	for _, p := range posts {
		if e, ok := FromPost(p); ok {
			entries = append(entries, e)
		}
	}
	for _, r := range reposts {
		if e, ok := FromRepost(r); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// sortEntries orders by created_at DESC, then timeline_id DESC.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.TimelineID > b.TimelineID
	})
}

// upsert overlays incoming onto existing by timeline_id and re-sorts the whole
// sequence. existing is not modified.
func upsert(existing, incoming []Entry) []Entry {
	out := make([]Entry, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i, e := range out {
		index[e.TimelineID] = i
	}
	for _, e := range incoming {
		if i, ok := index[e.TimelineID]; ok {
			out[i] = e
			continue
		}
		index[e.TimelineID] = len(out)
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// removeWhere returns entries without those matching drop, and how many went.
func removeWhere(entries []Entry, drop func(Entry) bool) ([]Entry, int) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out, len(entries) - len(out)
}
