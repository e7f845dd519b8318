package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/socialfeed/internal/auth"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeParser map[string]string

func (p fakeParser) ParseAccessToken(token string) (*auth.Claims, error) {
	sub, ok := p[token]
	if !ok {
		return nil, errors.New("invalid or expired token")
	}
	return &auth.Claims{Email: sub + "@example.com", RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}, nil
}

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	return r
}

func get(r http.Handler, target, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth(fakeParser{"good": "alice"}))

	w := get(r, "/", "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "Bearer bad").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "Basic Zm9vOmJhcg==").Code)

	// websocket 握手走 query 参数
	w = get(r, "/?access_token=good", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	r := newEngine(OptionalAuth(fakeParser{"good": "bob"}))

	w := get(r, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = get(r, "/", "Bearer good")
	assert.Equal(t, "bob", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "Bearer bad").Code)
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(0.001, 2)
	r := newEngine(l.Middleware())

	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/", "").Code)
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.get("10.0.0.1")
	l.get("10.0.0.2")
	l.visitors["10.0.0.1"].lastSeen = time.Now().Add(-2 * visitorIdle)
	l.lastSweep = time.Now().Add(-2 * visitorIdle)

	l.get("10.0.0.3")
	assert.NotContains(t, l.visitors, "10.0.0.1")
	assert.Contains(t, l.visitors, "10.0.0.2")
	assert.Contains(t, l.visitors, "10.0.0.3")
}
