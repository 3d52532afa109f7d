package model

import (
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role 操作者角色
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// Valid 是否为已知角色
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleFaculty || r == RoleAdmin
}

// Actor 已通过认证的操作者
type Actor struct {
	UserID string
	Role   Role
}

// Channel 频道
// Members / PendingRequests / BannedMembers 均按集合语义维护，不含重复项
type Channel struct {
	ID              string    `bson:"_id" json:"id"`
	Name            string    `bson:"name" json:"name"`
	Description     string    `bson:"description" json:"description"`
	CreatorID       string    `bson:"creator_id" json:"creatorId"`
	Members         []string  `bson:"members" json:"members"`
	PendingRequests []string  `bson:"pending_requests" json:"pendingRequests"`
	BannedMembers   []string  `bson:"banned_members" json:"bannedMembers"`
	IsGeneral       bool      `bson:"is_general" json:"isGeneral"`
	Version         int64     `bson:"version" json:"version"` // 成员变更修订号，只增不比较
	CreatedAt       time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updatedAt"`
}

// IsMember 用户是否为成员
func (c *Channel) IsMember(userID string) bool {
	return slices.Contains(c.Members, userID)
}

// IsPending 用户是否在待审批列表
func (c *Channel) IsPending(userID string) bool {
	return slices.Contains(c.PendingRequests, userID)
}

// IsBanned 用户是否被封禁
func (c *Channel) IsBanned(userID string) bool {
	return slices.Contains(c.BannedMembers, userID)
}

// IsCreator 用户是否为创建者
func (c *Channel) IsCreator(userID string) bool {
	return c.CreatorID == userID
}

// Clone 深拷贝
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Members = slices.Clone(c.Members)
	cp.PendingRequests = slices.Clone(c.PendingRequests)
	cp.BannedMembers = slices.Clone(c.BannedMembers)
	return &cp
}

// Message 频道消息
type Message struct {
	ID          string    `bson:"_id" json:"id"`
	ChannelID   string    `bson:"channel_id" json:"channelId"`
	AuthorID    string    `bson:"author_id" json:"authorId"`
	Content     string    `bson:"content" json:"content"`
	Attachments []string  `bson:"attachments" json:"attachments"`
	Pinned      bool      `bson:"pinned" json:"pinned"`
	Likes       []string  `bson:"likes" json:"likes"`
	Reports     []string  `bson:"reports" json:"reports"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updatedAt"`
}

// HasReported 用户是否已举报过该消息
func (m *Message) HasReported(userID string) bool {
	return slices.Contains(m.Reports, userID)
}

// Clone 深拷贝
func (m *Message) Clone() *Message {
	cp := *m
	cp.Attachments = slices.Clone(m.Attachments)
	cp.Likes = slices.Clone(m.Likes)
	cp.Reports = slices.Clone(m.Reports)
	return &cp
}

// Notification 站内通知记录，只负责创建，投递由外部服务完成
type Notification struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"userId"`
	Type      string    `bson:"type" json:"type"`
	Content   string    `bson:"content" json:"content"`
	Read      bool      `bson:"read" json:"read"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// UserProfile 用户展示信息，只读
type UserProfile struct {
	ID     string `bson:"_id" json:"id"`
	Name   string `bson:"name" json:"name"`
	Email  string `bson:"email" json:"email,omitempty"`
	Avatar string `bson:"avatar" json:"avatar,omitempty"`
	Role   Role   `bson:"role" json:"role,omitempty"`
}

// ModerationLog 管理操作审计记录
type ModerationLog struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Action       string    `gorm:"type:varchar(32);not null;index" json:"action"`
	ChannelID    string    `gorm:"type:varchar(64);not null;index" json:"channelId"`
	MessageID    string    `gorm:"type:varchar(64)" json:"messageId,omitempty"`
	ActorID      string    `gorm:"type:varchar(64)" json:"actorId"`
	TargetUserID string    `gorm:"type:varchar(64)" json:"targetUserId,omitempty"`
	Detail       string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName 指定表名
func (ModerationLog) TableName() string {
	return "moderation_logs"
}

// NewID 生成实体ID
func NewID() string {
	return primitive.NewObjectID().Hex()
}
