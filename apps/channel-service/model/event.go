package model

// ChannelView 频道详情，成员信息已解析
type ChannelView struct {
	*Channel
	Creator         *UserProfile   `json:"creator"`
	MemberProfiles  []*UserProfile `json:"memberProfiles"`
	PendingProfiles []*UserProfile `json:"pendingProfiles"`
}

// MessageView 消息详情，作者和举报人已解析
type MessageView struct {
	*Message
	Author    *UserProfile   `json:"author"`
	Reporters []*UserProfile `json:"reporters,omitempty"`
}

// JoinResult 申请加入的结果，普通频道返回完整频道，审批频道只返回回执
type JoinResult struct {
	ChannelID string   `json:"channelId"`
	Status    string   `json:"status"`
	Channel   *Channel `json:"channel,omitempty"`
}

// ReportResult 举报结果
type ReportResult struct {
	ReportCount int  `json:"reportCount"`
	Banned      bool `json:"banned"`
}

// MessageDeletedPayload messageDeleted 事件载荷
type MessageDeletedPayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// MemberPayload memberRemoved / userBanned 事件载荷
type MemberPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// ChannelDeletedPayload channelDeleted 事件载荷
type ChannelDeletedPayload struct {
	ChannelID string `json:"channelId"`
}
