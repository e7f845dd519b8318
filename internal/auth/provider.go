package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

const anonymousName = "名無し"

// Claims carried in access tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider 本地身份提供方：凭据、JWT 访问令牌、可轮换的刷新令牌
type Provider struct {
	creds      repository.CredentialRepository
	users      repository.UserRepository
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	validate   *validator.Validate
	now        func() time.Time
}

func NewProvider(creds repository.CredentialRepository, users repository.UserRepository, cfg config.AuthConfig) *Provider {
	p := &Provider{
		creds:      creds,
		users:      users,
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		resetTTL:   cfg.ResetTokenTTL,
		validate:   validator.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if p.accessTTL <= 0 {
		p.accessTTL = time.Hour
	}
	if p.refreshTTL <= 0 {
		p.refreshTTL = 30 * 24 * time.Hour
	}
	if p.resetTTL <= 0 {
		p.resetTTL = time.Hour
	}
	return p
}

func (p *Provider) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := p.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid sign-up input: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	cred := &model.Credential{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: string(hash),
		DisplayName:  in.DisplayName,
		Icon:         in.Icon,
	}
	if err := p.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create credential: %w", err)
	}
	return p.issue(ctx, cred)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	cred, err := p.creds.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return p.issue(ctx, cred)
}

// SignOut revokes the refresh token of userID.
func (p *Provider) SignOut(ctx context.Context, userID string) error {
	err := p.creds.Update(ctx, userID, map[string]interface{}{"refresh_token": "", "refresh_expires_at": nil})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotSignedIn
	}
	return err
}

// Refresh rotates the refresh token and issues a new access token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	cred, err := p.creds.GetByRefreshToken(ctx, refreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if cred.RefreshExpiresAt == nil || !p.now().Before(*cred.RefreshExpiresAt) {
		return nil, ErrInvalidToken
	}
	return p.issue(ctx, cred)
}

// ResetPasswordForEmail 生成重置令牌。未注册邮箱返回空串且不报错，不暴露账号是否存在；
// 令牌的投递（邮件）不在本服务内。
func (p *Provider) ResetPasswordForEmail(ctx context.Context, email string) (string, error) {
	cred, err := p.creds.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	token := uuid.New().String()
	expires := p.now().Add(p.resetTTL)
	if err := p.creds.Update(ctx, cred.ID, map[string]interface{}{"reset_token": token, "reset_expires_at": expires}); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	logger.Info("password reset requested", zap.String("user_id", cred.ID))
	return token, nil
}

// VerifyResetToken consumes a reset token and signs the user in so the
// password can be updated.
func (p *Provider) VerifyResetToken(ctx context.Context, token string) (*Session, error) {
	cred, err := p.creds.GetByResetToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load reset token: %w", err)
	}
	if cred.ResetExpiresAt == nil || !p.now().Before(*cred.ResetExpiresAt) {
		return nil, ErrInvalidToken
	}
	if err := p.creds.Update(ctx, cred.ID, map[string]interface{}{"reset_token": "", "reset_expires_at": nil}); err != nil {
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return p.issue(ctx, cred)
}

func (p *Provider) UpdatePassword(ctx context.Context, userID, password string) error {
	if err := p.validate.Var(password, "required,min=8,max=72"); err != nil {
		return fmt.Errorf("invalid password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = p.creds.Update(ctx, userID, map[string]interface{}{"password_hash": string(hash)})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotSignedIn
	}
	return err
}

func (p *Provider) GetUser(ctx context.Context, userID string) (*User, error) {
	cred, err := p.creds.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, err
	}
	u := userOf(cred)
	if profile, err := p.users.GetByID(ctx, userID); err == nil {
		u.DisplayName, u.Icon = profile.DisplayName, profile.Icon
	}
	return &u, nil
}

// ParseAccessToken validates signature and expiry.
func (p *Provider) ParseAccessToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *Provider) issue(ctx context.Context, cred *model.Credential) (*Session, error) {
	now := p.now()
	expires := now.Add(p.accessTTL)
	claims := Claims{
		Email: cred.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := uuid.New().String()
	refreshExpires := now.Add(p.refreshTTL)
	if err := p.creds.Update(ctx, cred.ID, map[string]interface{}{"refresh_token": refresh, "refresh_expires_at": refreshExpires}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	p.ensureProfile(ctx, cred)
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expires,
		User:         userOf(cred),
	}, nil
}

// ensureProfile 登录时补建 users 资料行；失败只记日志
func (p *Provider) ensureProfile(ctx context.Context, cred *model.Credential) {
	u := userOf(cred)
	err := p.users.Ensure(ctx, &model.User{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Icon: u.Icon})
	if err != nil {
		logger.Warn("ensure profile failed", zap.String("user_id", cred.ID), zap.Error(err))
	}
}

func userOf(cred *model.Credential) User {
	name := cred.DisplayName
	if name == "" {
		name, _, _ = strings.Cut(cred.Email, "@")
	}
	if name == "" {
		name = anonymousName
	}
	icon := cred.Icon
	if icon == "" {
		icon = model.DefaultIcon
	}
	return User{ID: cred.ID, Email: cred.Email, DisplayName: name, Icon: icon}
}
