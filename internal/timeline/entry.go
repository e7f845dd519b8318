package timeline

import (
	"fmt"
	"time"

	"github.com/d60-Lab/socialfeed/internal/model"
)

// Kind tags the variant held by an Entry.
type Kind int

const (
	KindOriginal Kind = iota + 1
	KindRepost
)

func (k Kind) String() string {
	switch k {
	case KindOriginal:
		return "ORIGINAL"
	case KindRepost:
		return "REPOST"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindOriginal, KindRepost:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown entry kind %d", int(k))
	}
}

// Actor 用户的展示身份（作者或转发者）
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
}

// PostSnapshot 是 entry 持有的只读帖子投影，与存储层模型解耦
type PostSnapshot struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	Text         string    `json:"text"`
	LikesCount   int64     `json:"likes_count"`
	RepostsCount int64     `json:"reposts_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Author       Actor     `json:"author"`
}

// Entry is one row of the merged timeline. RepostActor is set iff Kind is
// KindRepost.
type Entry struct {
	TimelineID  string       `json:"timeline_id"`
	Kind        Kind         `json:"kind"`
	CreatedAt   time.Time    `json:"created_at"`
	Post        PostSnapshot `json:"post"`
	RepostID    string       `json:"repost_id,omitempty"`
	RepostActor *Actor       `json:"repost_actor,omitempty"`
}

// FilterAuthorID is the user whose presence in the following set decides
// whether a FOLLOWING timeline shows this entry.
func (e Entry) FilterAuthorID() string {
	switch e.Kind {
	case KindOriginal:
		return e.Post.AuthorID
	case KindRepost:
		if e.RepostActor == nil {
			return ""
		}
		return e.RepostActor.ID
	default:
		return ""
	}
}

// Cursor 返回该 entry 在其来源表中的游标位置
func (e Entry) Cursor() Cursor {
	switch e.Kind {
	case KindRepost:
		return Cursor{At: e.CreatedAt, ID: e.RepostID}
	default:
		return Cursor{At: e.CreatedAt, ID: e.Post.ID}
	}
}

func PostTimelineID(postID string) string     { return "post-" + postID }
func RepostTimelineID(repostID string) string { return "repost-" + repostID }

func actorOf(u *model.User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, DisplayName: u.DisplayName, Icon: u.Icon}
}

func snapshotOf(p *model.Post) PostSnapshot {
	s := PostSnapshot{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		Text:         p.Text,
		LikesCount:   p.LikesCount,
		RepostsCount: p.RepostsCount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		Author:       actorOf(p.Author),
	}
	if s.Author.ID == "" {
		s.Author.ID = p.AuthorID
	}
	return s
}

// FromPost adapts a post row into an ORIGINAL entry.
func FromPost(p *model.Post) (Entry, bool) {
	if p == nil || p.ID == "" {
		return Entry{}, false
	}
	return Entry{
		TimelineID: PostTimelineID(p.ID),
		Kind:       KindOriginal,
		CreatedAt:  p.CreatedAt,
		Post:       snapshotOf(p),
	}, true
}

// FromRepost adapts a repost row into a REPOST entry. Rows whose embedded
// post (or that post's author) did not join are rejected.
func FromRepost(r *model.Repost) (Entry, bool) {
	if r == nil || r.ID == "" || r.Post == nil || r.Post.Author == nil {
		return Entry{}, false
	}
	actor := actorOf(r.User)
	if actor.ID == "" {
		actor.ID = r.UserID
	}
	return Entry{
		TimelineID:  RepostTimelineID(r.ID),
		Kind:        KindRepost,
		CreatedAt:   r.CreatedAt,
		Post:        snapshotOf(r.Post),
		RepostID:    r.ID,
		RepostActor: &actor,
	}, true
}
