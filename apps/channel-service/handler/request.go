package handler

// CreateChannelRequest 创建频道
type CreateChannelRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	IsGeneral   bool   `json:"isGeneral"`
}

// ChannelRequest 只带频道ID的请求
type ChannelRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
}

// MemberRequest 针对频道内某个用户的请求
type MemberRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
	UserID    string `json:"userId" binding:"required"`
}

// PostMessageRequest 发送消息
type PostMessageRequest struct {
	ChannelID   string   `json:"channelId" binding:"required"`
	Content     string   `json:"content" binding:"required"`
	Attachments []string `json:"attachments"`
}

// MessageRequest 只带消息ID的请求
type MessageRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

// PinMessageRequest 置顶或取消置顶
type PinMessageRequest struct {
	MessageID string `json:"messageId" binding:"required"`
	Pinned    bool   `json:"pinned"`
}
