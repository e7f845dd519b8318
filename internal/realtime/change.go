package realtime

import (
	"time"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

// Tables that publish row changes.
const (
	TablePosts   = "posts"
	TableReposts = "reposts"
)

// Change is a row-level notification. For reposts AuthorID is the reposter.
type Change struct {
	Table    string    `json:"table"`
	Op       string    `json:"op"`
	ID       string    `json:"id"`
	PostID   string    `json:"post_id,omitempty"`
	AuthorID string    `json:"author_id,omitempty"`
	At       time.Time `json:"at"`
}

// Channel 每张表一个 redis 频道
func Channel(table string) string { return "realtime:" + table }

func FromOutbox(o *model.Outbox) Change {
	return Change{
		Table:    o.Topic,
		Op:       o.Op,
		ID:       o.RowID,
		PostID:   o.PostID,
		AuthorID: o.AuthorID,
		At:       o.CreatedAt,
	}
}

// Event converts the change for the timeline engine; ok is false for tables
// or ops the timeline does not consume.
func (c Change) Event() (timeline.Event, bool) {
	var kind timeline.Kind
	switch c.Table {
	case TablePosts:
		kind = timeline.KindOriginal
	case TableReposts:
		kind = timeline.KindRepost
	default:
		return timeline.Event{}, false
	}
	op := timeline.Op(c.Op)
	if op != timeline.OpInsert && op != timeline.OpDelete {
		return timeline.Event{}, false
	}
	return timeline.Event{Kind: kind, Op: op, ID: c.ID, PostID: c.PostID, AuthorID: c.AuthorID}, true
}
