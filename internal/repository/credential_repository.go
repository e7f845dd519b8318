package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/internal/model"
)

type CredentialRepository interface {
	Create(ctx context.Context, cred *model.Credential) error
	GetByID(ctx context.Context, id string) (*model.Credential, error)
	GetByEmail(ctx context.Context, email string) (*model.Credential, error)
	GetByRefreshToken(ctx context.Context, token string) (*model.Credential, error)
	GetByResetToken(ctx context.Context, token string) (*model.Credential, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
}

type credentialRepository struct{ db *gorm.DB }

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Create(ctx context.Context, cred *model.Credential) error {
	err := r.db.WithContext(ctx).Create(cred).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *credentialRepository) first(ctx context.Context, query string, arg interface{}) (*model.Credential, error) {
	var c model.Credential
	if err := r.db.WithContext(ctx).Where(query, arg).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *credentialRepository) GetByID(ctx context.Context, id string) (*model.Credential, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *credentialRepository) GetByEmail(ctx context.Context, email string) (*model.Credential, error) {
	return r.first(ctx, "email = ?", strings.ToLower(email))
}

func (r *credentialRepository) GetByRefreshToken(ctx context.Context, token string) (*model.Credential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "refresh_token = ?", token)
}

func (r *credentialRepository) GetByResetToken(ctx context.Context, token string) (*model.Credential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "reset_token = ?", token)
}

func (r *credentialRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Credential{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation 兜底识别未开启 TranslateError 时各驱动的唯一键冲突
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
