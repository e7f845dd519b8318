package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Profile 对外的用户资料快照
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Bio         string `json:"bio,omitempty"`
}

type ProfileInput struct {
	DisplayName string `json:"display_name" validate:"required,max=64"`
	Icon        string `json:"icon" validate:"required,max=32"`
	Bio         string `json:"bio" validate:"max=500"`
}

// ProfileService 读多写少的资料读取，按 id 缓存 JSON 快照
type ProfileService struct {
	users    repository.UserRepository
	cache    *redis.Client
	ttl      time.Duration
	validate *validator.Validate
}

func NewProfileService(users repository.UserRepository, cache *redis.Client, ttl time.Duration) *ProfileService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProfileService{users: users, cache: cache, ttl: ttl, validate: validator.New()}
}

func profileKey(id string) string { return fmt.Sprintf("user:%s", id) }

func profileOf(u *model.User) Profile {
	return Profile{ID: u.ID, DisplayName: u.DisplayName, Icon: u.Icon, Bio: u.Bio}
}

func (s *ProfileService) GetProfile(ctx context.Context, id string) (*Profile, error) {
	profiles, err := s.GetProfiles(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, ErrUserNotFound
	}
	return &profiles[0], nil
}

// GetProfiles returns profiles in ids order, skipping unknown ids.
func (s *ProfileService) GetProfiles(ctx context.Context, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return []Profile{}, nil
	}

	cached := make(map[string]Profile, len(ids))
	if s.cache != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = profileKey(id)
		}
		if vals, err := s.cache.MGet(ctx, keys...).Result(); err == nil {
			for i, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue
				}
				var p Profile
				if uErr := json.Unmarshal([]byte(str), &p); uErr == nil {
					cached[ids[i]] = p
				}
			}
		}
	}

	for _, id := range ids {
		if _, ok := cached[id]; ok {
			continue
		}
		u, err := s.users.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		p := profileOf(u)
		cached[id] = p
		s.store(ctx, p)
	}

	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := cached[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*Profile, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Bio = strings.TrimSpace(in.Bio)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	err := s.users.Update(ctx, userID, map[string]interface{}{
		"display_name": in.DisplayName,
		"icon":         in.Icon,
		"bio":          in.Bio,
		"updated_at":   time.Now().UTC(),
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	s.evict(ctx, userID)
	return &Profile{ID: userID, DisplayName: in.DisplayName, Icon: in.Icon, Bio: in.Bio}, nil
}

func (s *ProfileService) store(ctx context.Context, p Profile) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, profileKey(p.ID), payload, s.ttl).Err(); err != nil {
		logger.Warn("profile cache write failed", zap.String("user_id", p.ID), zap.Error(err))
	}
}

func (s *ProfileService) evict(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, profileKey(id)).Err(); err != nil {
		logger.Warn("profile cache evict failed", zap.String("user_id", id), zap.Error(err))
	}
}
