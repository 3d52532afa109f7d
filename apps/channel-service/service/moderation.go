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

// PostMessage 发送消息，仅频道成员可发送
func (s *Service) PostMessage(ctx context.Context, actor model.Actor, channelID, content string, attachments []string) (view *model.MessageView, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.PostMessage", actor)
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
	if channel.IsBanned(actor.UserID) || !channel.IsMember(actor.UserID) {
		return nil, newError(KindForbidden, "只有频道成员可以发送消息")
	}
	if strings.TrimSpace(content) == "" {
		return nil, newError(KindInvalidArgument, "消息内容不能为空")
	}
	if attachments == nil {
		attachments = []string{}
	}

	now := time.Now()
	message := &model.Message{
		ID:          model.NewID(),
		ChannelID:   channelID,
		AuthorID:    actor.UserID,
		Content:     content,
		Attachments: attachments,
		Pinned:      false,
		Likes:       []string{},
		Reports:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.withRetry(func() error {
		return s.messages.CreateMessage(ctx, message)
	})
	if err != nil {
		return nil, fromDAO(err, "发送消息失败")
	}

	span.SetAttributes(attribute.String("message.id", message.ID))
	view = s.messageView(ctx, message)
	s.publish(ctx, channelID, model.EventNewMessage, view)
	return view, nil
}

// ReportMessage 举报消息
// 举报数达到阈值且作者不是创建者时，封禁作者并清除其在该频道的全部消息
func (s *Service) ReportMessage(ctx context.Context, actor model.Actor, messageID string) (result *model.ReportResult, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.ReportMessage", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithMessageID(ctx, messageID)

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ctx = tracecontext.WithChannelID(ctx, message.ChannelID)

	channel, err := s.loadChannel(ctx, message.ChannelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsMember(actor.UserID) {
		return nil, newError(KindForbidden, "只有频道成员可以举报消息")
	}
	if message.HasReported(actor.UserID) {
		return nil, newError(KindAlreadyReported, "已举报过该消息")
	}

	var count int
	err = s.withRetry(func() error {
		var e error
		count, e = s.messages.AddReport(ctx, messageID, actor.UserID)
		return e
	})
	if err != nil {
		return nil, fromDAO(err, "消息不存在")
	}
	span.SetAttributes(attribute.Int("message.report_count", count))

	result = &model.ReportResult{ReportCount: count}
	if count < s.opts.ReportThreshold || channel.IsCreator(message.AuthorID) {
		return result, nil
	}

	// 举报已提交，封禁失败只记录日志，后续举报会继续完成封禁
	banned, banErr := s.autoBan(ctx, actor, message, count)
	if banErr != nil {
		s.logger.Error(ctx, "Auto-ban cascade incomplete",
			logger.F("authorID", message.AuthorID),
			logger.F("reportCount", count),
			logger.F("error", banErr.Error()))
		return result, nil
	}
	result.Banned = banned
	return result, nil
}

// autoBan 在消息锁和频道锁内执行封禁并清除作者消息
// 作者已被封禁但仍有消息残留时只补做清除，返回值表示本次调用是否完成了封禁
func (s *Service) autoBan(ctx context.Context, actor model.Actor, message *model.Message, count int) (bool, error) {
	unlockMessage, err := s.lock(ctx, messageLockKey(message.ID))
	if err != nil {
		return false, err
	}
	defer unlockMessage()

	unlockChannel, err := s.lock(ctx, channelLockKey(message.ChannelID))
	if err != nil {
		return false, err
	}
	defer unlockChannel()

	channel, err := s.channels.GetChannel(ctx, message.ChannelID)
	if err != nil {
		// 频道已被并发删除，举报本身已经生效
		s.logger.Warn(ctx, "Channel vanished before auto-ban", logger.F("error", err.Error()))
		return false, nil
	}
	authorID := message.AuthorID
	if channel.IsCreator(authorID) {
		return false, nil
	}

	resumed := channel.IsBanned(authorID)
	if !resumed {
		err = s.withRetry(func() error {
			_, e := s.channels.BanMember(ctx, channel.ID, authorID)
			return e
		})
		if err != nil {
			return false, fromDAO(err, "频道不存在")
		}
	}

	// 被封禁的用户无法再发消息，清除可以重复执行
	var purged int64
	err = s.withRetry(func() error {
		var e error
		purged, e = s.messages.DeleteAuthorMessages(ctx, channel.ID, authorID)
		return e
	})
	if err != nil {
		return false, fromDAO(err, "清除消息失败")
	}
	if resumed && purged == 0 {
		return false, nil
	}

	s.notify(ctx, authorID, model.NotificationBannedFromChannel,
		fmt.Sprintf("你在频道「%s」的消息被多人举报，已被移出并禁止再次加入", channel.Name))
	s.publish(ctx, channel.ID, model.EventUserBanned, model.MemberPayload{ChannelID: channel.ID, UserID: authorID})
	s.record(ctx, &model.ModerationLog{
		Action:       model.AuditAutoBan,
		ChannelID:    channel.ID,
		MessageID:    message.ID,
		ActorID:      actor.UserID,
		TargetUserID: authorID,
		Detail:       fmt.Sprintf("report count %d, purged %d messages", count, purged),
	})
	s.logger.Info(ctx, "Author auto-banned",
		logger.F("authorID", authorID),
		logger.F("reportCount", count),
		logger.F("purgedMessages", purged),
		logger.F("resumed", resumed))
	return true, nil
}

// PinMessage 置顶或取消置顶，需为频道成员且是管理员、教师或创建者
func (s *Service) PinMessage(ctx context.Context, actor model.Actor, messageID string, pinned bool) (view *model.MessageView, err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.PinMessage", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithMessageID(ctx, messageID)
	span.SetAttributes(attribute.Bool("message.pinned", pinned))

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ctx = tracecontext.WithChannelID(ctx, message.ChannelID)

	unlock, err := s.lock(ctx, channelLockKey(message.ChannelID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	channel, err := s.loadChannel(ctx, message.ChannelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsMember(actor.UserID) {
		return nil, newError(KindForbidden, "只有频道成员可以置顶消息")
	}
	if !isModerator(actor) && !channel.IsCreator(actor.UserID) {
		return nil, newError(KindForbidden, "没有置顶消息的权限")
	}

	var updated *model.Message
	err = s.withRetry(func() error {
		var e error
		updated, e = s.messages.SetPinned(ctx, messageID, pinned)
		return e
	})
	if err != nil {
		return nil, fromDAO(err, "消息不存在")
	}

	view = s.messageView(ctx, updated)
	s.publish(ctx, channel.ID, model.EventMessageUpdated, view)

	action := model.AuditPinMessage
	if !pinned {
		action = model.AuditUnpinMessage
	}
	s.record(ctx, &model.ModerationLog{
		Action:    action,
		ChannelID: channel.ID,
		MessageID: messageID,
		ActorID:   actor.UserID,
	})
	return view, nil
}

// DeleteMessage 删除消息，作者本人或教师可操作
func (s *Service) DeleteMessage(ctx context.Context, actor model.Actor, messageID string) (err error) {
	ctx, span, cancel := s.begin(ctx, "channel.service.DeleteMessage", actor)
	defer cancel()
	defer func() { finish(span, err) }()
	ctx = tracecontext.WithMessageID(ctx, messageID)

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	ctx = tracecontext.WithChannelID(ctx, message.ChannelID)
	if message.AuthorID != actor.UserID && actor.Role != model.RoleFaculty {
		return newError(KindForbidden, "只有作者或教师可以删除消息")
	}

	unlock, err := s.lock(ctx, channelLockKey(message.ChannelID))
	if err != nil {
		return err
	}
	defer unlock()

	err = s.withRetry(func() error {
		return s.messages.DeleteMessage(ctx, messageID)
	})
	if err != nil {
		return fromDAO(err, "消息不存在")
	}

	s.publish(ctx, message.ChannelID, model.EventMessageDeleted, model.MessageDeletedPayload{
		ChannelID: message.ChannelID,
		MessageID: messageID,
	})
	if message.AuthorID != actor.UserID {
		s.record(ctx, &model.ModerationLog{
			Action:       model.AuditDeleteMessage,
			ChannelID:    message.ChannelID,
			MessageID:    messageID,
			ActorID:      actor.UserID,
			TargetUserID: message.AuthorID,
		})
	}
	return nil
}

// messageView 解析作者和举报人，解析失败时退化为只含ID的资料
func (s *Service) messageView(ctx context.Context, message *model.Message) *model.MessageView {
	ids := append([]string{message.AuthorID}, message.Reports...)
	resolved, err := s.resolveUsers(ctx, ids)
	if err != nil {
		s.logger.Warn(ctx, "Failed to resolve message users", logger.F("error", err.Error()))
		resolved = map[string]*model.UserProfile{}
	}
	return buildMessageView(message, resolved)
}

func buildMessageView(message *model.Message, resolved map[string]*model.UserProfile) *model.MessageView {
	return &model.MessageView{
		Message:   message,
		Author:    profilesOf([]string{message.AuthorID}, resolved)[0],
		Reporters: profilesOf(message.Reports, resolved),
	}
}
