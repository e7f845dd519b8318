package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/api/middleware"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/response"
)

type createSessionRequest struct {
	// Filter "all" | "following"
	Filter string `json:"filter"`
}

type sessionResponse struct {
	SessionID string           `json:"session_id"`
	Filter    string           `json:"filter"`
	Entries   []timeline.Entry `json:"entries"`
	HasMore   bool             `json:"has_more"`
}

type loadMoreResponse struct {
	Appended []timeline.Entry `json:"appended"`
	HasMore  bool             `json:"has_more"`
}

// liveMessage websocket 下行消息；每次会话变化推送完整快照
type liveMessage struct {
	Type    string           `json:"type"`
	Entries []timeline.Entry `json:"entries"`
	HasMore bool             `json:"has_more"`
}

// CreateSession 拉取首屏并创建服务端 timeline 会话
// @Summary 拉取 timeline
// @Tags Timeline
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body createSessionRequest false "过滤模式"
// @Success 201 {object} response.Response{data=sessionResponse}
// @Failure 400 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/timeline/sessions [post]
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	filter, err := timeline.ParseFilter(req.Filter)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := middleware.UserID(c)
	opts := timeline.Options{Filter: filter, UserID: userID}

	id, feed, entries, err := h.feeds.Create(c.Request.Context(), userID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, sessionResponse{SessionID: id, Filter: filter.String(), Entries: entries, HasMore: feed.HasMore()})
}

// GetSession 当前会话内容（含实时合入的变化）
// @Summary 查看 timeline 会话
// @Tags Timeline
// @Security BearerAuth
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response{data=sessionResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/timeline/sessions/{id} [get]
func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("id")
	feed, err := h.feeds.Get(id, middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	st := feed.Snapshot()
	response.Success(c, sessionResponse{SessionID: id, Filter: st.Filter.String(), Entries: st.Entries, HasMore: st.HasMore})
}

// LoadMore 追加下一页
// @Summary 加载更多
// @Tags Timeline
// @Security BearerAuth
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response{data=loadMoreResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/timeline/sessions/{id}/more [post]
func (h *Handler) LoadMore(c *gin.Context) {
	feed, err := h.feeds.Get(c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	appended, err := feed.LoadMore(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if appended == nil {
		appended = []timeline.Entry{}
	}
	response.Success(c, loadMoreResponse{Appended: appended, HasMore: feed.HasMore()})
}

// DeleteSession 关闭会话
// @Summary 关闭 timeline 会话
// @Tags Timeline
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/timeline/sessions/{id} [delete]
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.feeds.Remove(c.Param("id"), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Live 订阅会话的实时变化（websocket）。每次变化推送一次完整快照；
// 一个会话同一时间只应有一条 live 连接。
// @Summary 实时 timeline
// @Tags Timeline
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param access_token query string false "无法设置请求头时使用"
// @Success 101
// @Failure 404 {object} response.Response
// @Router /api/v1/timeline/sessions/{id}/live [get]
func (h *Handler) Live(c *gin.Context) {
	sessionID := c.Param("id")
	feed, detach, err := h.feeds.Attach(sessionID, middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	defer detach()

	// 订阅独立于请求生命周期，由连接关闭触发退订
	unsubscribe, err := feed.SubscribeToTimeline(context.WithoutCancel(c.Request.Context()), feed.Options())
	if err != nil {
		writeError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	h.streamFeed(conn, feed, sessionID)
}

func (h *Handler) streamFeed(conn *websocket.Conn, feed *service.Feed, sessionID string) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		// 只为感知断开；客户端消息忽略
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(typ string) error {
		st := feed.Snapshot()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(liveMessage{Type: typ, Entries: st.Entries, HasMore: st.HasMore})
	}
	if err := send("snapshot"); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-feed.Done():
			// 会话被删除或回收，通知客户端后断开
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(5*time.Second))
			return
		case <-feed.Updates():
			if err := send("update"); err != nil {
				logger.Debug("live write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
