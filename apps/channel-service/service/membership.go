package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"goim-channel/apps/channel-service/model"
	tracecontext "goim-channel/pkg/context"
	"goim-channel/pkg/logger"
)

// CreateChannel 创建频道，学生不能创建
func (s *Service) CreateChannel(ctx context.Context, actor model.Actor, name, description string, isGeneral bool) (channel *model.Channel, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.CreateChannel", actor)
	defer cancel()
	defer func() { finish(span, err) }()

	span.SetAttributes(
		attribute.String("channel.name", name),
		attribute.Bool("channel.is_general", isGeneral),
	)

	if actor.Role == model.RoleStudent {
		return nil, newError(KindPermissionDenied, "学生不能创建频道")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindInvalidArgument, "频道名称不能为空")
	}

	now := time.Now()
	channel = &model.Channel{
		ID:              model.NewID(),
		Name:            name,
		Description:     description,
		CreatorID:       actor.UserID,
		Members:         []string{actor.UserID},
		PendingRequests: []string{},
		BannedMembers:   []string{},
		IsGeneral:       isGeneral,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.withRetry(func() error {
		return s.channels.CreateChannel(ctx, channel)
	})
	if err != nil {
		return nil, fromDAO(err, "创建频道失败")
	}

	span.SetAttributes(attribute.String("channel.id", channel.ID))
	s.logger.Info(ctx, "Channel created",
		logger.F("channelID", channel.ID),
		logger.F("creatorID", actor.UserID),
		logger.F("isGeneral", isGeneral))
	return channel, nil
}

// RequestJoin 申请加入频道
// 普通频道直接加入并返回完整频道，审批频道进入待审批并通知创建者
func (s *Service) RequestJoin(ctx context.Context, actor model.Actor, channelID string) (result *model.JoinResult, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.RequestJoin", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithChannelID(ctx, channelID)

	unlock, err := s.lock(ctx, channelLockKey(channelID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel.IsBanned(actor.UserID) {
		return nil, newError(KindForbidden, "你已被该频道封禁")
	}

	if channel.IsGeneral {
		if channel.IsMember(actor.UserID) {
			return &model.JoinResult{ChannelID: channelID, Status: model.JoinStatusJoined, Channel: channel}, nil
		}
		var updated *model.Channel
		err = s.withRetry(func() error {
			var e error
			updated, e = s.channels.AddMember(ctx, channelID, actor.UserID)
			return e
		})
		if err != nil {
			return nil, fromDAO(err, "频道不存在")
		}
		s.logger.Info(ctx, "User joined channel", logger.F("channelID", channelID))
		return &model.JoinResult{ChannelID: channelID, Status: model.JoinStatusJoined, Channel: updated}, nil
	}

	if channel.IsMember(actor.UserID) {
		return nil, newError(KindInvalidState, "已经是频道成员")
	}
	if channel.IsPending(actor.UserID) {
		return nil, newError(KindInvalidState, "已提交加入申请")
	}
	err = s.withRetry(func() error {
		_, e := s.channels.AddPendingRequest(ctx, channelID, actor.UserID)
		return e
	})
	if err != nil {
		return nil, fromDAO(err, "频道不存在")
	}

	s.notify(ctx, channel.CreatorID, model.NotificationJoinRequest,
		fmt.Sprintf("用户 %s 申请加入频道「%s」", actor.UserID, channel.Name))
	s.logger.Info(ctx, "Join request created",
		logger.F("channelID", channelID),
		logger.F("creatorID", channel.CreatorID))
	return &model.JoinResult{ChannelID: channelID, Status: model.JoinStatusPending}, nil
}

// Approve 审批加入申请，仅创建者或管理员可操作
func (s *Service) Approve(ctx context.Context, actor model.Actor, channelID, targetUserID string) (channel *model.Channel, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.Approve", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithChannelID(ctx, channelID)
	span.SetAttributes(attribute.String("target.user_id", targetUserID))

	if targetUserID == "" {
		return nil, newError(KindInvalidArgument, "目标用户不能为空")
	}

	unlock, err := s.lock(ctx, channelLockKey(channelID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !current.IsCreator(actor.UserID) && actor.Role != model.RoleAdmin {
		return nil, newError(KindForbidden, "只有频道创建者或管理员可以审批")
	}
	if current.IsBanned(targetUserID) {
		return nil, newError(KindForbidden, "目标用户已被封禁")
	}

	err = s.withRetry(func() error {
		var e error
		channel, e = s.channels.AddMember(ctx, channelID, targetUserID)
		return e
	})
	if err != nil {
		return nil, fromDAO(err, "频道不存在")
	}

	if current.IsPending(targetUserID) {
		s.notify(ctx, targetUserID, model.NotificationJoinApproved,
			fmt.Sprintf("你加入频道「%s」的申请已通过", current.Name))
	}
	s.logger.Info(ctx, "Join request approved",
		logger.F("channelID", channelID),
		logger.F("targetUserID", targetUserID))
	return channel, nil
}

// Leave 退出频道，创建者不能退出
func (s *Service) Leave(ctx context.Context, actor model.Actor, channelID string) (channel *model.Channel, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.Leave", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithChannelID(ctx, channelID)

	unlock, err := s.lock(ctx, channelLockKey(channelID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if current.IsCreator(actor.UserID) {
		return nil, newError(KindInvalidState, "创建者不能退出频道，请删除频道")
	}

	err = s.withRetry(func() error {
		var e error
		channel, e = s.channels.RemoveMember(ctx, channelID, actor.UserID)
		return e
	})
	if err != nil {
		return nil, fromDAO(err, "频道不存在")
	}

	s.logger.Info(ctx, "User left channel", logger.F("channelID", channelID))
	return channel, nil
}

// RemoveMember 移除成员，创建者、教师或超级管理员可操作
func (s *Service) RemoveMember(ctx context.Context, actor model.Actor, channelID, targetUserID string) (err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.RemoveMember", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithChannelID(ctx, channelID)
	span.SetAttributes(attribute.String("target.user_id", targetUserID))

	if targetUserID == "" {
		return newError(KindInvalidArgument, "目标用户不能为空")
	}

	unlock, err := s.lock(ctx, channelLockKey(channelID))
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if !s.canRemoveMembers(actor, current) {
		return newError(KindForbidden, "没有移除成员的权限")
	}
	if current.IsCreator(targetUserID) {
		return newError(KindInvalidState, "不能移除频道创建者")
	}

	err = s.withRetry(func() error {
		_, e := s.channels.RemoveMember(ctx, channelID, targetUserID)
		return e
	})
	if err != nil {
		return fromDAO(err, "频道不存在")
	}

	s.notify(ctx, targetUserID, model.NotificationRemovedFromChannel,
		fmt.Sprintf("你已被移出频道「%s」", current.Name))
	s.publish(ctx, channelID, model.EventMemberRemoved, model.MemberPayload{ChannelID: channelID, UserID: targetUserID})
	s.record(ctx, &model.ModerationLog{
		Action:       model.AuditRemoveMember,
		ChannelID:    channelID,
		ActorID:      actor.UserID,
		TargetUserID: targetUserID,
	})
	s.logger.Info(ctx, "Member removed",
		logger.F("channelID", channelID),
		logger.F("targetUserID", targetUserID))
	return nil
}

func (s *Service) canRemoveMembers(actor model.Actor, channel *model.Channel) bool {
	if channel.IsCreator(actor.UserID) || actor.Role == model.RoleFaculty {
		return true
	}
	return s.opts.SuperAdminID != "" && actor.UserID == s.opts.SuperAdminID
}

// DeleteChannel 删除频道及其全部消息，仅创建者或管理员可操作
func (s *Service) DeleteChannel(ctx context.Context, actor model.Actor, channelID string) (err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.DeleteChannel", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithChannelID(ctx, channelID)

	unlock, err := s.lock(ctx, channelLockKey(channelID))
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if !current.IsCreator(actor.UserID) && actor.Role != model.RoleAdmin {
		return newError(KindForbidden, "只有频道创建者或管理员可以删除频道")
	}

	var deleted int64
	err = s.withRetry(func() error {
		var e error
		deleted, e = s.messages.DeleteChannelMessages(ctx, channelID)
		return e
	})
	if err != nil {
		return fromDAO(err, "删除频道消息失败")
	}
	err = s.withRetry(func() error {
		return s.channels.DeleteChannel(ctx, channelID)
	})
	if err != nil {
		return fromDAO(err, "频道不存在")
	}

	s.publish(ctx, channelID, model.EventChannelDeleted, model.ChannelDeletedPayload{ChannelID: channelID})
	s.record(ctx, &model.ModerationLog{
		Action:    model.AuditDeleteChannel,
		ChannelID: channelID,
		ActorID:   actor.UserID,
		Detail:    fmt.Sprintf("deleted %d messages", deleted),
	})
	s.logger.Info(ctx, "Channel deleted",
		logger.F("channelID", channelID),
		logger.F("deletedMessages", deleted))
	return nil
}
