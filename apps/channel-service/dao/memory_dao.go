package dao

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"goim-channel/apps/channel-service/model"
)

// MemoryStore 进程内存储，实现全部DAO接口，本地开发和测试使用
// 所有读写在一把锁内完成，返回值都是副本
type MemoryStore struct {
	mu            sync.Mutex
	channels      map[string]*model.Channel
	messages      map[string]*model.Message
	notifications []*model.Notification
	users         map[string]*model.UserProfile
	audits        []*model.ModerationLog
	now           func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]*model.Channel),
		messages: make(map[string]*model.Message),
		users:    make(map[string]*model.UserProfile),
		now:      time.Now,
	}
}

// PutUser 写入用户资料
func (s *MemoryStore) PutUser(profile *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.users[profile.ID] = &cp
}

// ==================== ChannelDAO ====================

// CreateChannel 创建频道
func (s *MemoryStore) CreateChannel(ctx context.Context, channel *model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalizeChannel(channel)
	if _, ok := s.channels[channel.ID]; ok {
		return ErrConflict
	}
	s.channels[channel.ID] = channel.Clone()
	return nil
}

// GetChannel 获取频道
func (s *MemoryStore) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

// ListChannels 按创建时间升序列出频道
func (s *MemoryStore) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*model.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		result = append(result, ch.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteChannel 删除频道
func (s *MemoryStore) DeleteChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(s.channels, channelID)
	return nil
}

// AddMember 加入成员
func (s *MemoryStore) AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	return s.mutateChannel(channelID, func(ch *model.Channel) error {
		if ch.IsBanned(userID) {
			return ErrBanned
		}
		ch.Members = addToSet(ch.Members, userID)
		ch.PendingRequests = pull(ch.PendingRequests, userID)
		return nil
	})
}

// AddPendingRequest 加入待审批列表
func (s *MemoryStore) AddPendingRequest(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	return s.mutateChannel(channelID, func(ch *model.Channel) error {
		if err := pendingRefusal(ch, userID); err != ErrConflict {
			return err
		}
		ch.PendingRequests = addToSet(ch.PendingRequests, userID)
		return nil
	})
}

// RemoveMember 移出成员和待审批
func (s *MemoryStore) RemoveMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	return s.mutateChannel(channelID, func(ch *model.Channel) error {
		if ch.IsCreator(userID) {
			return ErrCreatorImmutable
		}
		ch.Members = pull(ch.Members, userID)
		ch.PendingRequests = pull(ch.PendingRequests, userID)
		return nil
	})
}

// BanMember 封禁成员
func (s *MemoryStore) BanMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	return s.mutateChannel(channelID, func(ch *model.Channel) error {
		if ch.IsCreator(userID) {
			return ErrCreatorImmutable
		}
		ch.Members = pull(ch.Members, userID)
		ch.PendingRequests = pull(ch.PendingRequests, userID)
		ch.BannedMembers = addToSet(ch.BannedMembers, userID)
		return nil
	})
}

// mutateChannel 在副本上执行变更，成功后整体替换，失败时原文档不变
func (s *MemoryStore) mutateChannel(channelID string, fn func(*model.Channel) error) (*model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = s.now()
	s.channels[channelID] = next
	return next.Clone(), nil
}

// ==================== MessageDAO ====================

// CreateMessage 保存消息
func (s *MemoryStore) CreateMessage(ctx context.Context, message *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalizeMessage(message)
	if _, ok := s.messages[message.ID]; ok {
		return ErrConflict
	}
	s.messages[message.ID] = message.Clone()
	return nil
}

// GetMessage 获取消息
func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// ListMessages 按创建时间升序列出频道消息
func (s *MemoryStore) ListMessages(ctx context.Context, channelID string) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*model.Message, 0)
	for _, msg := range s.messages {
		if msg.ChannelID == channelID {
			result = append(result, msg.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// AddReport 去重追加举报人并返回新的举报数
func (s *MemoryStore) AddReport(ctx context.Context, messageID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return 0, ErrNotFound
	}
	if msg.HasReported(userID) {
		return 0, ErrAlreadyReported
	}
	msg.Reports = append(msg.Reports, userID)
	msg.UpdatedAt = s.now()
	return len(msg.Reports), nil
}

// SetPinned 设置置顶状态
func (s *MemoryStore) SetPinned(ctx context.Context, messageID string, pinned bool) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	msg.Pinned = pinned
	msg.UpdatedAt = s.now()
	return msg.Clone(), nil
}

// DeleteMessage 删除单条消息
func (s *MemoryStore) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return ErrNotFound
	}
	delete(s.messages, messageID)
	return nil
}

// DeleteChannelMessages 删除频道内全部消息
func (s *MemoryStore) DeleteChannelMessages(ctx context.Context, channelID string) (int64, error) {
	return s.deleteMessagesWhere(func(m *model.Message) bool { return m.ChannelID == channelID }), nil
}

// DeleteAuthorMessages 删除某用户在频道内的全部消息
func (s *MemoryStore) DeleteAuthorMessages(ctx context.Context, channelID, authorID string) (int64, error) {
	return s.deleteMessagesWhere(func(m *model.Message) bool {
		return m.ChannelID == channelID && m.AuthorID == authorID
	}), nil
}

func (s *MemoryStore) deleteMessagesWhere(match func(*model.Message) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, msg := range s.messages {
		if match(msg) {
			delete(s.messages, id)
			n++
		}
	}
	return n
}

// ==================== NotificationDAO ====================

// CreateNotification 写入通知
func (s *MemoryStore) CreateNotification(ctx context.Context, notification *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *notification
	s.notifications = append(s.notifications, &cp)
	return nil
}

// Notifications 按时间倒序列出用户通知
func (s *MemoryStore) Notifications(userID string) []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*model.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if n := s.notifications[i]; n.UserID == userID {
			cp := *n
			result = append(result, &cp)
		}
	}
	return result
}

// ==================== UserDAO ====================

// GetUsers 批量获取用户资料
func (s *MemoryStore) GetUsers(ctx context.Context, userIDs []string) (map[string]*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]*model.UserProfile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.users[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}

// ==================== AuditDAO ====================

// RecordAction 写入审计记录
func (s *MemoryStore) RecordAction(ctx context.Context, log *model.ModerationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	cp.ID = uint(len(s.audits) + 1)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.audits = append(s.audits, &cp)
	return nil
}

// ListActions 按写入顺序列出频道审计记录
func (s *MemoryStore) ListActions(ctx context.Context, channelID string) ([]*model.ModerationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*model.ModerationLog, 0)
	for _, l := range s.audits {
		if l.ChannelID == channelID {
			cp := *l
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ==================== helpers ====================

// pendingRefusal 判断用户为何不能进入待审批列表，可以进入时返回 ErrConflict
func pendingRefusal(ch *model.Channel, userID string) error {
	switch {
	case ch.IsBanned(userID):
		return ErrBanned
	case ch.IsMember(userID):
		return ErrAlreadyMember
	case ch.IsPending(userID):
		return ErrAlreadyRequested
	default:
		return ErrConflict
	}
}

func addToSet(set []string, v string) []string {
	if slices.Contains(set, v) {
		return set
	}
	return append(set, v)
}

func pull(set []string, v string) []string {
	return slices.DeleteFunc(set, func(s string) bool { return s == v })
}

// normalizeChannel 集合字段写入前去重并保证非nil，$addToSet 不能作用于 null
func normalizeChannel(ch *model.Channel) {
	ch.Members = dedup(ch.Members)
	ch.PendingRequests = dedup(ch.PendingRequests)
	ch.BannedMembers = dedup(ch.BannedMembers)
}

func normalizeMessage(m *model.Message) {
	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	m.Likes = dedup(m.Likes)
	m.Reports = dedup(m.Reports)
}

func dedup(set []string) []string {
	result := make([]string, 0, len(set))
	for _, v := range set {
		result = addToSet(result, v)
	}
	return result
}
