package timeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Op is a row-level change operation.
type Op string

const (
	OpInsert Op = "INSERT"
	OpDelete Op = "DELETE"
)

// Event is one row change on posts (Kind ORIGINAL) or reposts (Kind REPOST).
// AuthorID is the post author or the reposter, when the producer knows it.
type Event struct {
	Kind     Kind
	Op       Op
	ID       string
	PostID   string
	AuthorID string
}

// HandleEvent feeds a live change into the session through the same
// replace-and-resort path LoadMore uses. It reports whether the session
// changed.
func (s *Session) HandleEvent(ctx context.Context, ev Event) (bool, error) {
	if s.Closed() {
		return false, nil
	}

	switch ev.Op {
	case OpDelete:
		switch ev.Kind {
		case KindOriginal:
			return s.RemovePost(ev.ID) > 0, nil
		case KindRepost:
			return s.RemoveRepost(ev.ID) > 0, nil
		default:
			return false, fmt.Errorf("unknown entry kind %d", int(ev.Kind))
		}
	case OpInsert:
		// 不在关注集合内的作者直接丢弃，省一次回查
		if ev.AuthorID != "" && !s.acceptsAuthor(ev.AuthorID) {
			return false, nil
		}
		entry, ok, err := s.refetch(ctx, ev)
		if err != nil || !ok {
			return false, err
		}
		return s.Apply(entry) > 0, nil
	default:
		return false, fmt.Errorf("unknown change op %q", ev.Op)
	}
}

func (s *Session) acceptsAuthor(authorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptsLocked(authorID)
}

// refetch loads the joined row for an insert event; rows deleted in the
// meantime (or reposts of a vanished post) yield ok=false.
func (s *Session) refetch(ctx context.Context, ev Event) (Entry, bool, error) {
	switch ev.Kind {
	case KindOriginal:
		p, err := s.store.GetPost(ctx, ev.ID)
		if errors.Is(err, ErrRowNotFound) {
			return Entry{}, false, nil
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("refetch post %s: %w", ev.ID, err)
		}
		e, ok := FromPost(p)
		return e, ok, nil
	case KindRepost:
		r, err := s.store.GetRepost(ctx, ev.ID)
		if errors.Is(err, ErrRowNotFound) {
			return Entry{}, false, nil
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("refetch repost %s: %w", ev.ID, err)
		}
		e, ok := FromRepost(r)
		if !ok {
			logger.Debug("dropping repost of missing post", zap.String("repost_id", ev.ID))
		}
		return e, ok, nil
	default:
		return Entry{}, false, fmt.Errorf("unknown entry kind %d", int(ev.Kind))
	}
}

// Consume applies events from ch until ch closes or ctx is done. Errors are
// logged; a failed refetch drops that one event.
func (s *Session) Consume(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := s.HandleEvent(ctx, ev); err != nil {
				logger.Warn("apply live event failed",
					zap.String("kind", ev.Kind.String()),
					zap.String("op", string(ev.Op)),
					zap.String("id", ev.ID),
					zap.Error(err),
				)
			}
		}
	}
}
