package timeline

import (
	"fmt"
	"strings"
)

// DefaultPageSize 每个来源单次拉取的行数
const DefaultPageSize = 20

// Filter selects which authors a timeline shows.
type Filter int

const (
	FilterAll Filter = iota
	FilterFollowing
)

func (f Filter) String() string {
	switch f {
	case FilterFollowing:
		return "FOLLOWING"
	default:
		return "ALL"
	}
}

// ParseFilter accepts "all" / "following" in any case; empty means ALL.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL":
		return FilterAll, nil
	case "FOLLOWING":
		return FilterFollowing, nil
	default:
		return FilterAll, fmt.Errorf("unknown timeline filter %q", s)
	}
}

// PageQuery describes one page request against a single source table.
// AuthorIDs nil means unrestricted; for reposts it restricts the reposter.
type PageQuery struct {
	AuthorIDs []string
	Before    *Cursor
	Limit     int
}

// BuildPageQuery 构造单个来源的分页查询。返回 false 表示不发起请求，该来源
// 视为已耗尽：FOLLOWING 模式下没有 viewer，或有效作者集合为空。
// followingIDs 不会被修改。
func BuildPageQuery(filter Filter, viewerID string, cursor *Cursor, followingIDs []string, pageSize int) (PageQuery, bool) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := PageQuery{Limit: pageSize}
	if cursor != nil {
		c := *cursor
		q.Before = &c
	}

	if filter != FilterFollowing {
		return q, true
	}
	if viewerID == "" {
		return PageQuery{}, false
	}

	ids := make([]string, 0, len(followingIDs)+1)
	seen := make(map[string]struct{}, len(followingIDs)+1)
	for _, id := range followingIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if _, ok := seen[viewerID]; !ok {
		ids = append(ids, viewerID)
	}
	if len(ids) == 0 {
		return PageQuery{}, false
	}
	q.AuthorIDs = ids
	return q, true
}
