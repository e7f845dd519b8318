package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/socialfeed/config"
	_ "github.com/d60-Lab/socialfeed/docs"
	"github.com/d60-Lab/socialfeed/internal/api/handler"
	"github.com/d60-Lab/socialfeed/internal/api/middleware"
)

// NewRouter 组装中间件与路由
func NewRouter(cfg *config.Config, h *handler.Handler, tokens middleware.TokenParser) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Sentry.DSN != "" {
		// Repanic 交给外层 gin.Recovery 返回 500
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.RequestLogger())
	// websocket 握手不能被 gzip 包装
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/live$`})))

	r.GET("/health", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())
	}
	authed := middleware.Auth(tokens)
	optional := middleware.OptionalAuth(tokens)

	a := v1.Group("/auth")
	{
		a.POST("/signup", h.SignUp)
		a.POST("/signin", h.SignIn)
		a.POST("/refresh", h.Refresh)
		a.POST("/reset-password", h.ResetPassword)
		a.POST("/recover", h.Recover)
		a.POST("/signout", authed, h.SignOut)
		a.PUT("/password", authed, h.UpdatePassword)
	}

	v1.GET("/me", authed, h.Me)

	users := v1.Group("/users")
	{
		users.PUT("/me", authed, h.UpdateMe)
		users.GET("/:id", h.GetUser)
		users.GET("/:id/posts", h.ListUserPosts)
	}

	posts := v1.Group("/posts")
	{
		posts.GET("/:id", h.GetPost)
		posts.POST("", authed, h.CreatePost)
		posts.DELETE("/:id", authed, h.DeletePost)
		posts.GET("/:id/engagement", authed, h.EngagementState)
		posts.POST("/:id/like", authed, h.Like)
		posts.DELETE("/:id/like", authed, h.Unlike)
		posts.POST("/:id/repost", authed, h.Repost)
		posts.DELETE("/:id/repost", authed, h.Unrepost)
	}

	rel := v1.Group("/relations")
	{
		rel.POST("/follow", authed, h.Follow)
		rel.POST("/unfollow", authed, h.Unfollow)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/status", authed, h.IsFollowing)
		rel.GET("/:user_id/fans", h.ListFans)
		rel.GET("/:user_id/counts", h.Counts)
	}

	// 匿名用户也可以看 ALL；会话归属于创建者
	tl := v1.Group("/timeline/sessions", optional)
	{
		tl.POST("", h.CreateSession)
		tl.GET("/:id", h.GetSession)
		tl.POST("/:id/more", h.LoadMore)
		tl.GET("/:id/live", h.Live)
		tl.DELETE("/:id", h.DeleteSession)
	}

	return r
}
