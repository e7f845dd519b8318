package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialfeed/internal/api/middleware"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/response"
)

// GetUser 公开资料
// @Summary 用户资料
// @Tags 用户
// @Produce json
// @Param id path string true "用户ID"
// @Success 200 {object} response.Response{data=service.Profile}
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	p, err := h.profiles.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

// UpdateMe 修改自己的资料
// @Summary 修改资料
// @Tags 用户
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.ProfileInput true "资料"
// @Success 200 {object} response.Response{data=service.Profile}
// @Failure 400 {object} response.Response
// @Router /api/v1/users/me [put]
func (h *Handler) UpdateMe(c *gin.Context) {
	var req service.ProfileInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.profiles.UpdateProfile(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

type userPostsResponse struct {
	Entries    []timeline.Entry `json:"entries"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ListUserPosts 某用户的投稿，新到旧，游标分页
// @Summary 用户投稿
// @Tags 用户
// @Produce json
// @Param id path string true "用户ID"
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=userPostsResponse}
// @Failure 400 {object} response.Response
// @Router /api/v1/users/{id}/posts [get]
func (h *Handler) ListUserPosts(c *gin.Context) {
	var before *timeline.Cursor
	if raw := c.Query("cursor"); raw != "" {
		cur, err := timeline.DecodeCursor(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		before = &cur
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(timeline.DefaultPageSize)))

	entries, next, err := h.postSvc.FetchUserPosts(c.Request.Context(), c.Param("id"), before, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := userPostsResponse{Entries: entries}
	if next != nil {
		resp.NextCursor = next.Encode()
	}
	response.Success(c, resp)
}
