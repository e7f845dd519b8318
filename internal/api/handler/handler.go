package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/d60-Lab/socialfeed/internal/auth"
	"github.com/d60-Lab/socialfeed/internal/service"
)

// Deps 由 cmd 组装后注入
type Deps struct {
	Auth       *auth.Provider
	Profiles   *service.ProfileService
	Posts      *service.PostService
	Engagement *service.EngagementService
	Relations  service.RelationshipService
	Feeds      *service.FeedRegistry

	// ExposeResetToken 仅用于本地调试：把重置令牌直接放进响应
	ExposeResetToken bool
	// AllowedOrigins 为空时只接受同源 websocket
	AllowedOrigins []string
	PingInterval   time.Duration
}

type Handler struct {
	auth       *auth.Provider
	profiles   *service.ProfileService
	postSvc    *service.PostService
	engagement *service.EngagementService
	relService service.RelationshipService
	feeds      *service.FeedRegistry

	exposeResetToken bool
	pingInterval     time.Duration
	upgrader         websocket.Upgrader
}

func New(d Deps) *Handler {
	h := &Handler{
		auth:             d.Auth,
		profiles:         d.Profiles,
		postSvc:          d.Posts,
		engagement:       d.Engagement,
		relService:       d.Relations,
		feeds:            d.Feeds,
		exposeResetToken: d.ExposeResetToken,
		pingInterval:     d.PingInterval,
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 30 * time.Second
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(d.AllowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(d.AllowedOrigins))
		for _, o := range d.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return h
}

// Health 健康检查
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
