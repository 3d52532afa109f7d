package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"goim-channel/apps/channel-service/model"
	tracecontext "goim-channel/pkg/context"
	"goim-channel/pkg/telemetry"
)

// ListChannels 列出所有频道
func (s *Service) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	ctx, span := telemetry.StartSpan(ctx, "channel.service.ListChannels")
	defer span.End()

	channels, err := s.channels.ListChannels(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fromDAO(err, "获取频道列表失败")
	}
	return channels, nil
}

// GetChannel 获取频道详情，解析创建者、成员和待审批用户
func (s *Service) GetChannel(ctx context.Context, channelID string) (*model.ChannelView, error) {
	ctx, span := telemetry.StartSpan(ctx, "channel.service.GetChannel")
	defer span.End()
	ctx = tracecontext.WithChannelID(ctx, channelID)

	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	view := &model.ChannelView{Channel: channel}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resolved, err := s.resolveUsers(gctx, []string{channel.CreatorID})
		if err != nil {
			return err
		}
		view.Creator = profilesOf([]string{channel.CreatorID}, resolved)[0]
		return nil
	})
	g.Go(func() error {
		resolved, err := s.resolveUsers(gctx, channel.Members)
		if err != nil {
			return err
		}
		view.MemberProfiles = profilesOf(channel.Members, resolved)
		return nil
	})
	g.Go(func() error {
		resolved, err := s.resolveUsers(gctx, channel.PendingRequests)
		if err != nil {
			return err
		}
		view.PendingProfiles = profilesOf(channel.PendingRequests, resolved)
		return nil
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, wrapError(KindInternal, "解析频道成员失败", err)
	}
	return view, nil
}

// ListMessages 按创建时间升序列出频道消息，解析作者和举报人
func (s *Service) ListMessages(ctx context.Context, channelID string) ([]*model.MessageView, error) {
	ctx, span := telemetry.StartSpan(ctx, "channel.service.ListMessages")
	defer span.End()
	ctx = tracecontext.WithChannelID(ctx, channelID)

	var messages []*model.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.loadChannel(gctx, channelID)
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = s.messages.ListMessages(gctx, channelID)
		if err != nil {
			return fromDAO(err, "获取消息失败")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.AuthorID)
		ids = append(ids, m.Reports...)
	}
	resolved, err := s.resolveUsers(ctx, ids)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, wrapError(KindInternal, "解析消息作者失败", err)
	}

	views := make([]*model.MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, buildMessageView(m, resolved))
	}
	return views, nil
}

// ListModerationLog 查看频道的管理操作记录，仅创建者或管理员可查看
func (s *Service) ListModerationLog(ctx context.Context, actor model.Actor, channelID string) ([]*model.ModerationLog, error) {
	ctx, span := telemetry.StartSpan(ctx, "channel.service.ListModerationLog")
	defer span.End()
	ctx = tracecontext.WithChannelID(ctx, channelID)

	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !channel.IsCreator(actor.UserID) && actor.Role != model.RoleAdmin {
		return nil, newError(KindForbidden, "只有频道创建者或管理员可以查看管理记录")
	}
	if s.audit == nil {
		return []*model.ModerationLog{}, nil
	}
	logs, err := s.audit.ListActions(ctx, channelID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, wrapError(KindInternal, "获取管理记录失败", err)
	}
	return logs, nil
}

// resolveUsers 未配置用户目录时返回空结果，调用方退化为只含ID的资料
func (s *Service) resolveUsers(ctx context.Context, ids []string) (map[string]*model.UserProfile, error) {
	if s.users == nil {
		return map[string]*model.UserProfile{}, nil
	}
	return s.users.Resolve(ctx, ids)
}
