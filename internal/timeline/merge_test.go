package timeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/socialfeed/internal/model"
)

func assertOrdered(t *testing.T, entries []Entry) {
	t.Helper()
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		assert.False(t, seen[e.TimelineID], "duplicate %s", e.TimelineID)
		seen[e.TimelineID] = true
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		assert.False(t, e.CreatedAt.After(prev.CreatedAt), "entry %d newer than %d", i, i-1)
	}
}

func TestFromPost(t *testing.T) {
	e, ok := FromPost(post("p1", "u1", 1))
	require.True(t, ok)
	assert.Equal(t, "post-p1", e.TimelineID)
	assert.Equal(t, KindOriginal, e.Kind)
	assert.Nil(t, e.RepostActor)
	assert.Equal(t, "u1", e.FilterAuthorID())
	assert.Equal(t, "name-u1", e.Post.Author.DisplayName)

	_, ok = FromPost(nil)
	assert.False(t, ok)
}

func TestFromRepost(t *testing.T) {
	p := post("p1", "u1", 1)
	e, ok := FromRepost(repost("r1", "u2", p, 5))
	require.True(t, ok)
	assert.Equal(t, "repost-r1", e.TimelineID)
	assert.Equal(t, KindRepost, e.Kind)
	assert.Equal(t, at(5), e.CreatedAt)
	require.NotNil(t, e.RepostActor)
	assert.Equal(t, "u2", e.RepostActor.ID)
	assert.Equal(t, "u2", e.FilterAuthorID())
	assert.Equal(t, "p1", e.Post.ID)

	_, ok = FromRepost(repost("r2", "u2", nil, 6))
	assert.False(t, ok, "repost of a missing post is dropped")

	orphan := post("p2", "u1", 1)
	orphan.Author = nil
	_, ok = FromRepost(repost("r3", "u2", orphan, 7))
	assert.False(t, ok, "repost whose post author did not join is dropped")
}

func TestTimelineIDsDoNotCollideAcrossKinds(t *testing.T) {
	p := post("same", "u1", 1)
	a, _ := FromPost(p)
	b, _ := FromRepost(repost("same", "u2", p, 2))
	assert.NotEqual(t, a.TimelineID, b.TimelineID)
}

func TestKindMarshalText(t *testing.T) {
	b, err := KindRepost.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "REPOST", string(b))
	_, err = Kind(0).MarshalText()
	assert.Error(t, err)
}

func TestMerge_FullPagesFromBothSources(t *testing.T) {
	var posts []*model.Post
	var reposts []*model.Repost
	for i := 0; i < 20; i++ {
		posts = append(posts, post(fmt.Sprintf("p%02d", 39-i), "u1", 100-2*i))
		reposts = append(reposts, repost(fmt.Sprintf("r%02d", 39-i), "u2", post(fmt.Sprintf("x%02d", i), "u3", 0), 99-2*i))
	}

	page := Merge(posts, reposts, 20)
	assert.Len(t, page.Entries, 40)
	assertOrdered(t, page.Entries)
	assert.True(t, page.HasMore())
	require.NotNil(t, page.PostCursor)
	require.NotNil(t, page.RepostCursor)
	assert.Equal(t, Cursor{At: posts[19].CreatedAt, ID: posts[19].ID}, *page.PostCursor)
	assert.Equal(t, Cursor{At: reposts[19].CreatedAt, ID: reposts[19].ID}, *page.RepostCursor)
}

func TestMerge_ShortPageExhaustsSource(t *testing.T) {
	posts := []*model.Post{post("p2", "u1", 2), post("p1", "u1", 1)}
	page := Merge(posts, nil, 20)
	assert.Nil(t, page.PostCursor)
	assert.Nil(t, page.RepostCursor)
	assert.False(t, page.HasMore())
	assert.Len(t, page.Entries, 2)
}

func TestMerge_DroppedRepostStillCountsTowardPage(t *testing.T) {
	reposts := []*model.Repost{
		repost("r2", "u2", post("p1", "u1", 0), 2),
		repost("r1", "u2", nil, 1),
	}
	page := Merge(nil, reposts, 2)
	assert.Len(t, page.Entries, 1)
	require.NotNil(t, page.RepostCursor)
	assert.Equal(t, "r1", page.RepostCursor.ID)
}

func TestMerge_EqualTimestampsAreDeterministic(t *testing.T) {
	p := post("a", "u1", 10)
	posts := []*model.Post{p}
	reposts := []*model.Repost{repost("b", "u2", p, 10)}

	first := Merge(posts, reposts, 20).Entries
	second := Merge(posts, reposts, 20).Entries
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, "repost-b", first[0].TimelineID)
	assert.Equal(t, "post-a", first[1].TimelineID)
}

func TestMerge_Empty(t *testing.T) {
	page := Merge(nil, nil, 20)
	assert.Empty(t, page.Entries)
	assert.False(t, page.HasMore())
}

func TestUpsert_ReplacesByTimelineID(t *testing.T) {
	p1, _ := FromPost(post("p1", "u1", 1))
	p2, _ := FromPost(post("p2", "u1", 2))
	existing := []Entry{p2, p1}

	updated := post("p1", "u1", 1)
	updated.LikesCount = 7
	e, _ := FromPost(updated)

	once := upsert(existing, []Entry{e})
	twice := upsert(once, []Entry{e})
	assert.Len(t, once, 2)
	assert.Equal(t, once, twice)
	assert.Equal(t, int64(7), once[1].Post.LikesCount)
	assert.Equal(t, int64(0), existing[1].Post.LikesCount, "existing slice untouched")
}

func TestUpsert_ResortsWholeSequence(t *testing.T) {
	p1, _ := FromPost(post("p1", "u1", 1))
	p3, _ := FromPost(post("p3", "u1", 3))
	p2, _ := FromPost(post("p2", "u1", 2))
	out := upsert([]Entry{p3, p1}, []Entry{p2})
	require.Len(t, out, 3)
	assert.Equal(t, []string{"post-p3", "post-p2", "post-p1"}, []string{out[0].TimelineID, out[1].TimelineID, out[2].TimelineID})
}
