package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialfeed/internal/api/middleware"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/response"
)

type createPostRequest struct {
	Text string `json:"text"`
	// SessionID 可选：同时把新帖插入该 timeline 会话
	SessionID string `json:"session_id"`
}

// CreatePost 发帖
// @Summary 发帖
// @Tags 投稿
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body createPostRequest true "正文"
// @Success 201 {object} response.Response{data=timeline.Entry}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	if req.SessionID != "" {
		feed, err := h.feeds.Get(req.SessionID, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		entry, err := feed.CreatePost(ctx, req.Text, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		response.Created(c, entry)
		return
	}

	p, err := h.postSvc.CreatePost(ctx, userID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	entry, _ := timeline.FromPost(p)
	response.Created(c, entry)
}

// GetPost 单条投稿
// @Summary 投稿详情
// @Tags 投稿
// @Produce json
// @Param id path string true "投稿ID"
// @Success 200 {object} response.Response{data=timeline.Entry}
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id} [get]
func (h *Handler) GetPost(c *gin.Context) {
	p, err := h.postSvc.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	entry, _ := timeline.FromPost(p)
	response.Success(c, entry)
}

// DeletePost 删除自己的投稿
// @Summary 删除投稿
// @Tags 投稿
// @Security BearerAuth
// @Param id path string true "投稿ID"
// @Param session_id query string false "同时从该 timeline 会话移除"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	postID := c.Param("id")

	var err error
	if sid := c.Query("session_id"); sid != "" {
		var feed *service.Feed
		if feed, err = h.feeds.Get(sid, userID); err == nil {
			err = feed.DeletePost(ctx, postID)
		}
	} else {
		err = h.postSvc.DeletePost(ctx, userID, postID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Like 点赞
// @Summary 点赞
// @Tags 互动
// @Security BearerAuth
// @Param id path string true "投稿ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/posts/{id}/like [post]
func (h *Handler) Like(c *gin.Context) {
	if err := h.engagement.Like(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Unlike 取消点赞
// @Summary 取消点赞
// @Tags 互动
// @Security BearerAuth
// @Param id path string true "投稿ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/posts/{id}/like [delete]
func (h *Handler) Unlike(c *gin.Context) {
	if err := h.engagement.Unlike(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Repost 转发
// @Summary 转发
// @Tags 互动
// @Security BearerAuth
// @Param id path string true "投稿ID"
// @Success 201 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/posts/{id}/repost [post]
func (h *Handler) Repost(c *gin.Context) {
	id, err := h.engagement.Repost(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, gin.H{"repost_id": id})
}

// Unrepost 取消转发
// @Summary 取消转发
// @Tags 互动
// @Security BearerAuth
// @Param id path string true "投稿ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/posts/{id}/repost [delete]
func (h *Handler) Unrepost(c *gin.Context) {
	if err := h.engagement.Unrepost(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// EngagementState 当前用户对一条投稿的点赞/转发状态
// @Summary 互动状态
// @Tags 互动
// @Security BearerAuth
// @Param id path string true "投稿ID"
// @Success 200 {object} response.Response{data=map[string]bool}
// @Router /api/v1/posts/{id}/engagement [get]
func (h *Handler) EngagementState(c *gin.Context) {
	ctx := c.Request.Context()
	userID, postID := middleware.UserID(c), c.Param("id")
	liked, err := h.engagement.IsLiked(ctx, userID, postID)
	if err != nil {
		writeError(c, err)
		return
	}
	reposted, err := h.engagement.IsReposted(ctx, userID, postID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": liked, "reposted": reposted})
}
