package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/socialfeed/internal/api/middleware"
	"github.com/d60-Lab/socialfeed/internal/auth"
	"github.com/d60-Lab/socialfeed/pkg/response"
)

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type resetPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type recoverRequest struct {
	Token string `json:"token" binding:"required"`
}

type updatePasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// SignUp 注册并登录
// @Summary 注册
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body auth.SignUpInput true "注册信息"
// @Success 201 {object} response.Response{data=auth.Session}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/auth/signup [post]
func (h *Handler) SignUp(c *gin.Context) {
	var req auth.SignUpInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.auth.SignUp(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, sess)
}

// SignIn 邮箱密码登录
// @Summary 登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body signInRequest true "登录信息"
// @Success 200 {object} response.Response{data=auth.Session}
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/signin [post]
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// SignOut 吊销刷新令牌；已签发的访问令牌在过期前仍然有效
// @Summary 登出
// @Tags 认证
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/signout [post]
func (h *Handler) SignOut(c *gin.Context) {
	if err := h.auth.SignOut(c.Request.Context(), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Refresh 轮换刷新令牌
// @Summary 刷新令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} response.Response{data=auth.Session}
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// ResetPassword 申请重置密码；无论邮箱是否注册都返回成功
// @Summary 申请重置密码
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body resetPasswordRequest true "邮箱"
// @Success 200 {object} response.Response
// @Router /api/v1/auth/reset-password [post]
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, err := h.auth.ResetPasswordForEmail(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.exposeResetToken && token != "" {
		response.Success(c, gin.H{"reset_token": token})
		return
	}
	response.Success(c, nil)
}

// Recover 用重置令牌换取会话（PASSWORD_RECOVERY）
// @Summary 使用重置令牌登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body recoverRequest true "重置令牌"
// @Success 200 {object} response.Response{data=auth.Session}
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/recover [post]
func (h *Handler) Recover(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.auth.VerifyResetToken(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// UpdatePassword 修改当前用户密码
// @Summary 修改密码
// @Tags 认证
// @Security BearerAuth
// @Accept json
// @Param request body updatePasswordRequest true "新密码"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/auth/password [put]
func (h *Handler) UpdatePassword(c *gin.Context) {
	var req updatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.auth.UpdatePassword(c.Request.Context(), middleware.UserID(c), req.Password); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Me 当前登录用户
// @Summary 当前用户
// @Tags 用户
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Response{data=auth.User}
// @Failure 401 {object} response.Response
// @Router /api/v1/me [get]
func (h *Handler) Me(c *gin.Context) {
	u, err := h.auth.GetUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, u)
}
