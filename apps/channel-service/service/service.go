package service

import (
	"context"
	"errors"
	"time"

	"github.com/flowchartsman/retry"
	"go.opentelemetry.io/otel/trace"

	"goim-channel/apps/channel-service/dao"
	"goim-channel/apps/channel-service/model"
	tracecontext "goim-channel/pkg/context"
	"goim-channel/pkg/keylock"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/telemetry"
)

// Broadcaster 向频道的实时订阅者发布事件，不阻塞调用方
type Broadcaster interface {
	Publish(channelID, event string, payload interface{})
}

// Options 引擎参数
type Options struct {
	ReportThreshold int
	ConflictRetries int
	SuperAdminID    string
	OpTimeout       time.Duration
}

// Dependencies 服务依赖，Audit 可以为 nil
type Dependencies struct {
	Channels    dao.ChannelDAO
	Messages    dao.MessageDAO
	Notifier    NotificationSink
	Users       *UserDirectory
	Audit       dao.AuditDAO
	Broadcaster Broadcaster
	Locker      keylock.Locker
}

// Service 频道服务
type Service struct {
	channels    dao.ChannelDAO
	messages    dao.MessageDAO
	notifier    NotificationSink
	users       *UserDirectory
	audit       dao.AuditDAO
	broadcaster Broadcaster
	locker      keylock.Locker
	opts        Options
	logger      logger.Logger

	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// NewService 创建频道服务实例
func NewService(deps Dependencies, opts Options, log logger.Logger) *Service {
	if opts.ReportThreshold <= 0 {
		opts.ReportThreshold = model.DefaultReportThreshold
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 5
	}
	return &Service{
		channels:      deps.Channels,
		messages:      deps.Messages,
		notifier:      deps.Notifier,
		users:         deps.Users,
		audit:         deps.Audit,
		broadcaster:   deps.Broadcaster,
		locker:        deps.Locker,
		opts:          opts,
		logger:        log,
		retryDelay:    20 * time.Millisecond,
		retryMaxDelay: 500 * time.Millisecond,
	}
}

// begin 开始一次写操作：脱离请求的取消信号，客户端断开不会中断已开始的变更
func (s *Service) begin(ctx context.Context, name string, actor model.Actor) (context.Context, trace.Span, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if s.opts.OpTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opts.OpTimeout)
	}
	ctx, span := telemetry.StartSpan(ctx, name)
	ctx = tracecontext.WithUser(ctx, actor.UserID, string(actor.Role))
	return ctx, span, cancel
}

// finish 结束span并记录失败原因
func finish(span trace.Span, err error) {
	telemetry.RecordError(span, err)
	span.End()
}

// lock 按key加锁，锁等待超时视为冲突
func (s *Service) lock(ctx context.Context, key string) (keylock.Unlock, error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err == nil {
		return unlock, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, wrapError(KindConflict, "资源繁忙，请稍后重试", err)
	}
	return nil, wrapError(KindInternal, "获取锁失败", err)
}

func channelLockKey(channelID string) string {
	return "channel:" + channelID
}

func messageLockKey(messageID string) string {
	return "message:" + messageID
}

// withRetry 存储层返回冲突时有限次重试，其他错误立即返回
func (s *Service) withRetry(fn func() error) error {
	var permanent error
	retrier := retry.NewRetrier(s.opts.ConflictRetries, s.retryDelay, s.retryMaxDelay)
	err := retrier.Run(func() error {
		err := fn()
		if err != nil && !errors.Is(err, dao.ErrConflict) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	return err
}

// publish 提交后发布事件，调用方持有频道锁，保证事件顺序与提交顺序一致
func (s *Service) publish(ctx context.Context, channelID, event string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(channelID, event, payload)
	s.logger.Debug(ctx, "Event published",
		logger.F("channelID", channelID),
		logger.F("event", event))
}

// record 写审计日志，失败不影响操作结果
func (s *Service) record(ctx context.Context, entry *model.ModerationLog) {
	if s.audit == nil {
		return
	}
	entry.CreatedAt = time.Now()
	if err := s.audit.RecordAction(ctx, entry); err != nil {
		s.logger.Error(ctx, "Failed to record moderation action",
			logger.F("action", entry.Action),
			logger.F("channelID", entry.ChannelID),
			logger.F("error", err.Error()))
	}
}

// notify 提交后创建通知
func (s *Service) notify(ctx context.Context, userID, notificationType, content string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, notificationType, content)
}

// loadChannel 读取频道，不存在时返回 NotFound
func (s *Service) loadChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	channel, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fromDAO(err, "频道不存在")
	}
	return channel, nil
}

// loadMessage 读取消息，不存在时返回 NotFound
func (s *Service) loadMessage(ctx context.Context, messageID string) (*model.Message, error) {
	message, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fromDAO(err, "消息不存在")
	}
	return message, nil
}

func isModerator(actor model.Actor) bool {
	return actor.Role == model.RoleAdmin || actor.Role == model.RoleFaculty
}
