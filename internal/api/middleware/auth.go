package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialfeed/internal/auth"
	"github.com/d60-Lab/socialfeed/pkg/response"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
)

// TokenParser validates access tokens (auth.Provider).
type TokenParser interface {
	ParseAccessToken(token string) (*auth.Claims, error)
}

// bearer 取 Authorization 头；websocket 握手拿不到自定义头时退回 access_token 参数
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("access_token")
}

// Auth rejects requests without a valid access token.
func Auth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			response.Unauthorized(c, "missing access token")
			return
		}
		claims, err := parser.ParseAccessToken(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a token is present. An invalid
// token is still rejected; a missing one continues anonymously.
func OptionalAuth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			c.Next()
			return
		}
		claims, err := parser.ParseAccessToken(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// UserID 当前请求的用户，匿名时为空串
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
