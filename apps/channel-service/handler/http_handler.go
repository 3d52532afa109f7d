package handler

import (
	"github.com/gin-gonic/gin"

	"goim-channel/apps/channel-service/model"
	"goim-channel/apps/channel-service/service"
	"goim-channel/pkg/httpx"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/middleware"
)

// HTTPHandler HTTP协议处理器
type HTTPHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc: svc,
		log: log,
	}
}

// RegisterRoutes 注册HTTP路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	channel := r.Group("/api/v1/channel")
	{
		channel.POST("/create", h.CreateChannel)   // 创建频道
		channel.POST("/join", h.JoinChannel)       // 申请加入
		channel.POST("/approve", h.ApproveRequest) // 审批加入申请
		channel.POST("/leave", h.LeaveChannel)     // 退出频道
		channel.POST("/remove", h.RemoveMember)    // 移除成员
		channel.POST("/delete", h.DeleteChannel)   // 删除频道
		channel.POST("/info", h.GetChannel)        // 频道详情
		channel.GET("/list", h.ListChannels)       // 频道列表
		channel.GET("/audit", h.ListModerationLog) // 管理操作记录
	}

	message := r.Group("/api/v1/message")
	{
		message.POST("/post", h.PostMessage)     // 发送消息
		message.POST("/report", h.ReportMessage) // 举报消息
		message.POST("/pin", h.PinMessage)       // 置顶/取消置顶
		message.POST("/delete", h.DeleteMessage) // 删除消息
		message.GET("/list", h.ListMessages)     // 频道消息列表
	}
}

// actorFrom 取出认证中间件写入的操作者
func actorFrom(c *gin.Context) (model.Actor, bool) {
	userID := c.GetString(middleware.UserIDKey)
	role := model.Role(c.GetString(middleware.UserRoleKey))
	if userID == "" || !role.Valid() {
		return model.Actor{}, false
	}
	return model.Actor{UserID: userID, Role: role}, true
}

// bind 解析请求体并取出操作者，失败时已写响应
func (h *HTTPHandler) bind(c *gin.Context, req interface{}) (model.Actor, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		httpx.Unauthorized(c, "无效的用户身份")
		return model.Actor{}, false
	}
	if req == nil {
		return actor, true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		h.log.Warn(c.Request.Context(), "Invalid request body",
			logger.F("path", c.FullPath()),
			logger.F("error", err.Error()))
		httpx.BadRequest(c, "请求格式错误")
		return model.Actor{}, false
	}
	return actor, true
}

// CreateChannel 创建频道
func (h *HTTPHandler) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	channel, err := h.svc.CreateChannel(c.Request.Context(), actor, req.Name, req.Description, req.IsGeneral)
	httpx.WriteObject(c, channel, err)
}

// JoinChannel 申请加入频道
func (h *HTTPHandler) JoinChannel(c *gin.Context) {
	var req ChannelRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	result, err := h.svc.RequestJoin(c.Request.Context(), actor, req.ChannelID)
	httpx.WriteObject(c, result, err)
}

// ApproveRequest 审批加入申请
func (h *HTTPHandler) ApproveRequest(c *gin.Context) {
	var req MemberRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	channel, err := h.svc.Approve(c.Request.Context(), actor, req.ChannelID, req.UserID)
	httpx.WriteObject(c, channel, err)
}

// LeaveChannel 退出频道
func (h *HTTPHandler) LeaveChannel(c *gin.Context) {
	var req ChannelRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	channel, err := h.svc.Leave(c.Request.Context(), actor, req.ChannelID)
	httpx.WriteObject(c, channel, err)
}

// RemoveMember 移除成员
func (h *HTTPHandler) RemoveMember(c *gin.Context) {
	var req MemberRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	err := h.svc.RemoveMember(c.Request.Context(), actor, req.ChannelID, req.UserID)
	httpx.WriteObject(c, nil, err)
}

// DeleteChannel 删除频道
func (h *HTTPHandler) DeleteChannel(c *gin.Context) {
	var req ChannelRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	err := h.svc.DeleteChannel(c.Request.Context(), actor, req.ChannelID)
	httpx.WriteObject(c, nil, err)
}

// GetChannel 频道详情
func (h *HTTPHandler) GetChannel(c *gin.Context) {
	var req ChannelRequest
	if _, ok := h.bind(c, &req); !ok {
		return
	}
	view, err := h.svc.GetChannel(c.Request.Context(), req.ChannelID)
	httpx.WriteObject(c, view, err)
}

// ListChannels 频道列表
func (h *HTTPHandler) ListChannels(c *gin.Context) {
	if _, ok := h.bind(c, nil); !ok {
		return
	}
	channels, err := h.svc.ListChannels(c.Request.Context())
	httpx.WriteObject(c, channels, err)
}

// ListModerationLog 管理操作记录
func (h *HTTPHandler) ListModerationLog(c *gin.Context) {
	actor, ok := h.bind(c, nil)
	if !ok {
		return
	}
	channelID := c.Query("channel_id")
	if channelID == "" {
		httpx.BadRequest(c, "缺少 channel_id")
		return
	}
	logs, err := h.svc.ListModerationLog(c.Request.Context(), actor, channelID)
	httpx.WriteObject(c, logs, err)
}

// PostMessage 发送消息
func (h *HTTPHandler) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	view, err := h.svc.PostMessage(c.Request.Context(), actor, req.ChannelID, req.Content, req.Attachments)
	httpx.WriteObject(c, view, err)
}

// ReportMessage 举报消息
func (h *HTTPHandler) ReportMessage(c *gin.Context) {
	var req MessageRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	result, err := h.svc.ReportMessage(c.Request.Context(), actor, req.MessageID)
	httpx.WriteObject(c, result, err)
}

// PinMessage 置顶或取消置顶
func (h *HTTPHandler) PinMessage(c *gin.Context) {
	var req PinMessageRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	view, err := h.svc.PinMessage(c.Request.Context(), actor, req.MessageID, req.Pinned)
	httpx.WriteObject(c, view, err)
}

// DeleteMessage 删除消息
func (h *HTTPHandler) DeleteMessage(c *gin.Context) {
	var req MessageRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	err := h.svc.DeleteMessage(c.Request.Context(), actor, req.MessageID)
	httpx.WriteObject(c, nil, err)
}

// ListMessages 频道消息列表
func (h *HTTPHandler) ListMessages(c *gin.Context) {
	if _, ok := h.bind(c, nil); !ok {
		return
	}
	channelID := c.Query("channel_id")
	if channelID == "" {
		httpx.BadRequest(c, "缺少 channel_id")
		return
	}
	messages, err := h.svc.ListMessages(c.Request.Context(), channelID)
	httpx.WriteObject(c, messages, err)
}
