package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

// MaxPostLength 按 rune 计
const MaxPostLength = 280

type postInput struct {
	Text string `validate:"required,max=280"`
}

// PostService 投稿的写入与读取
type PostService struct {
	posts    repository.PostRepository
	profiles *ProfileService
	validate *validator.Validate
}

func NewPostService(posts repository.PostRepository, profiles *ProfileService) *PostService {
	return &PostService{posts: posts, profiles: profiles, validate: validator.New()}
}

// CreatePost validates before touching storage: an anonymous author or blank
// text never reaches the database.
func (s *PostService) CreatePost(ctx context.Context, authorID, text string) (*model.Post, error) {
	if authorID == "" {
		return nil, ErrUnauthenticated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPost
	}
	// validator 的 max 对字符串按 rune 计数
	if err := s.validate.Struct(postInput{Text: text}); err != nil {
		return nil, ErrPostTooLong
	}

	p, err := s.posts.Create(ctx, authorID, text)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	s.attachAuthor(ctx, p)
	return p, nil
}

// DeletePost 只有作者本人可以删除
func (s *PostService) DeletePost(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	p, err := s.posts.GetByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return err
	}
	if p.AuthorID != userID {
		return ErrForbidden
	}
	err = s.posts.Delete(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	return err
}

func (s *PostService) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	p, err := s.posts.GetByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FetchUserPosts pages one author's own posts, newest first. next is nil when
// the page came back short.
func (s *PostService) FetchUserPosts(ctx context.Context, userID string, before *timeline.Cursor, limit int) ([]timeline.Entry, *timeline.Cursor, error) {
	if limit <= 0 || limit > 100 {
		limit = timeline.DefaultPageSize
	}
	rows, err := s.posts.ListByAuthor(ctx, userID, before, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list posts of %s: %w", userID, err)
	}
	entries := make([]timeline.Entry, 0, len(rows))
	for _, p := range rows {
		if e, ok := timeline.FromPost(p); ok {
			entries = append(entries, e)
		}
	}
	var next *timeline.Cursor
	if len(rows) == limit {
		c := entries[len(entries)-1].Cursor()
		next = &c
	}
	return entries, next, nil
}

func (s *PostService) attachAuthor(ctx context.Context, p *model.Post) {
	if p.Author != nil || s.profiles == nil {
		return
	}
	prof, err := s.profiles.GetProfile(ctx, p.AuthorID)
	if err != nil {
		return
	}
	p.Author = &model.User{ID: prof.ID, DisplayName: prof.DisplayName, Icon: prof.Icon}
}
