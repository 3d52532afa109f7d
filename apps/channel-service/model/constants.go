package model

// 通知类型
const (
	NotificationJoinRequest        = "join-request"
	NotificationJoinApproved       = "join-approved"
	NotificationRemovedFromChannel = "removed-from-channel"
	NotificationBannedFromChannel  = "banned-from-channel"
)

// 广播事件
const (
	EventNewMessage     = "newMessage"
	EventMessageUpdated = "messageUpdated"
	EventMessageDeleted = "messageDeleted"
	EventMemberRemoved  = "memberRemoved"
	EventUserBanned     = "userBanned"
	EventChannelDeleted = "channelDeleted"
)

// 加入结果
const (
	JoinStatusJoined  = "joined"
	JoinStatusPending = "pending"
)

// 审计动作
const (
	AuditRemoveMember  = "remove_member"
	AuditAutoBan       = "auto_ban"
	AuditPinMessage    = "pin_message"
	AuditUnpinMessage  = "unpin_message"
	AuditDeleteMessage = "delete_message"
	AuditDeleteChannel = "delete_channel"
)

// MongoDB 集合名
const (
	CollectionChannels      = "channels"
	CollectionMessages      = "messages"
	CollectionNotifications = "notifications"
	CollectionUsers         = "users"
)

const DefaultReportThreshold = 10
