package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// SessionProvider is the identity collaborator a Client talks to.
type SessionProvider interface {
	SignUp(ctx context.Context, in SignUpInput) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, userID string) error
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	ResetPasswordForEmail(ctx context.Context, email string) (string, error)
	VerifyResetToken(ctx context.Context, token string) (*Session, error)
	UpdatePassword(ctx context.Context, userID, password string) error
}

// Client 显式构造的会话持有者：保存当前 session，按过期时间调度刷新，
// 并把会话变化发布到 Events。
type Client struct {
	provider SessionProvider
	margin   time.Duration
	minDelay time.Duration
	retry    time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	session *Session
	timer   *time.Timer
	closed  bool

	events chan Event
}

func NewClient(provider SessionProvider, cfg config.AuthConfig) *Client {
	c := &Client{
		provider: provider,
		margin:   cfg.RefreshMargin,
		minDelay: cfg.MinRefreshDelay,
		retry:    cfg.RefreshRetry,
		timeout:  10 * time.Second,
		now:      time.Now,
		events:   make(chan Event, 32),
	}
	if c.margin <= 0 {
		c.margin = DefaultRefreshMargin
	}
	if c.minDelay <= 0 {
		c.minDelay = DefaultMinRefreshDelay
	}
	if c.retry <= 0 {
		c.retry = DefaultRefreshRetry
	}
	return c
}

// Events delivers session changes. Events are dropped when nobody drains it.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Client) User() *User {
	s := c.Session()
	if s == nil {
		return nil
	}
	return &s.User
}

func (c *Client) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	s, err := c.provider.SignUp(ctx, in)
	if err != nil {
		return nil, err
	}
	c.install(s, EventSignedIn)
	return s, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	s, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.install(s, EventSignedIn)
	return s, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return ErrNotSignedIn
	}
	if err := c.provider.SignOut(ctx, s.User.ID); err != nil {
		return err
	}
	c.clear()
	return nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) (string, error) {
	return c.provider.ResetPasswordForEmail(ctx, email)
}

// Recover signs in with a reset token and emits PASSWORD_RECOVERY.
func (c *Client) Recover(ctx context.Context, token string) (*Session, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	s, err := c.provider.VerifyResetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	c.install(s, EventPasswordRecovery)
	return s, nil
}

func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	s := c.Session()
	if s == nil {
		return ErrNotSignedIn
	}
	if err := c.provider.UpdatePassword(ctx, s.User.ID, password); err != nil {
		return err
	}
	c.emit(EventUserUpdated, s)
	return nil
}

// Close stops refresh scheduling and closes Events.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	close(c.events)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) install(s *Session, typ EventType) { c.installIf(s, typ, nil) }

// installIf 在同一临界区内校验 cond 并替换 session；cond 为 nil 时直接替换
func (c *Client) installIf(s *Session, typ EventType, cond func() bool) {
	c.mu.Lock()
	if c.closed || (cond != nil && !cond()) {
		c.mu.Unlock()
		return
	}
	c.session = s
	c.scheduleLocked(refreshDelay(s.ExpiresAt, c.now(), c.margin, c.minDelay))
	c.mu.Unlock()
	c.emit(typ, s)
}

func (c *Client) clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.session = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.emit(EventSignedOut, nil)
}

func (c *Client) scheduleLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, c.refresh)
}

func (c *Client) refresh() {
	c.mu.Lock()
	if c.closed || c.session == nil {
		c.mu.Unlock()
		return
	}
	token := c.session.RefreshToken
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	s, err := c.provider.Refresh(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		logger.Warn("refresh token rejected, signing out", zap.Error(err))
		c.clear()
		return
	}
	if err != nil {
		logger.Warn("session refresh failed", zap.Duration("retry_in", c.retry), zap.Error(err))
		c.mu.Lock()
		if !c.closed && c.session != nil && c.session.RefreshToken == token {
			c.scheduleLocked(c.retry)
		}
		c.mu.Unlock()
		return
	}

	// 刷新期间已登出或换了账号
	c.installIf(s, EventTokenRefreshed, func() bool {
		return c.session != nil && c.session.RefreshToken == token
	})
}

func (c *Client) emit(typ EventType, s *Session) {
	ev := Event{Type: typ, At: c.now()}
	if s != nil {
		cp := *s
		ev.Session = &cp
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		logger.Warn("auth event dropped", zap.String("type", string(typ)))
	}
}
