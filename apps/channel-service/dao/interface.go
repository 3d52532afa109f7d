package dao

import (
	"context"
	"errors"

	"goim-channel/apps/channel-service/model"
)

// 数据层错误，由service层翻译为对外的错误类型
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("concurrent modification")
	ErrAlreadyReported  = errors.New("already reported")
	ErrBanned           = errors.New("user is banned")
	ErrCreatorImmutable = errors.New("creator membership is immutable")
	ErrAlreadyMember    = errors.New("already a member")
	ErrAlreadyRequested = errors.New("join already requested")
)

// ChannelDAO 频道数据访问接口
// 成员相关写操作都是单条原子更新，创建者和封禁约束在更新条件里保证
type ChannelDAO interface {
	CreateChannel(ctx context.Context, channel *model.Channel) error
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]*model.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error

	// AddMember 加入成员并移出待审批，目标被封禁时返回 ErrBanned
	AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error)
	// AddPendingRequest 加入待审批，已是成员、已申请或被封禁时分别返回对应错误
	AddPendingRequest(ctx context.Context, channelID, userID string) (*model.Channel, error)
	// RemoveMember 从成员和待审批中移除，目标为创建者时返回 ErrCreatorImmutable
	RemoveMember(ctx context.Context, channelID, userID string) (*model.Channel, error)
	// BanMember 移出成员和待审批并加入封禁列表，目标为创建者时返回 ErrCreatorImmutable
	BanMember(ctx context.Context, channelID, userID string) (*model.Channel, error)
}

// MessageDAO 消息数据访问接口
type MessageDAO interface {
	CreateMessage(ctx context.Context, message *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	// ListMessages 按创建时间升序返回频道消息
	ListMessages(ctx context.Context, channelID string) ([]*model.Message, error)
	// AddReport 原子地把举报人加入集合并返回新的举报数
	AddReport(ctx context.Context, messageID, userID string) (int, error)
	SetPinned(ctx context.Context, messageID string, pinned bool) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteChannelMessages(ctx context.Context, channelID string) (int64, error)
	DeleteAuthorMessages(ctx context.Context, channelID, authorID string) (int64, error)
}

// NotificationDAO 通知数据访问接口
type NotificationDAO interface {
	CreateNotification(ctx context.Context, notification *model.Notification) error
}

// UserDAO 用户资料只读接口，不存在的用户不出现在结果中
type UserDAO interface {
	GetUsers(ctx context.Context, userIDs []string) (map[string]*model.UserProfile, error)
}

// AuditDAO 管理操作审计接口
type AuditDAO interface {
	RecordAction(ctx context.Context, log *model.ModerationLog) error
	ListActions(ctx context.Context, channelID string) ([]*model.ModerationLog, error)
}
