package service

import (
	"context"
	"encoding/json"
	"time"

	"goim-channel/apps/channel-service/dao"
	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/logger"
)

// NotificationSink 通知写入口，失败只记录日志
type NotificationSink interface {
	Notify(ctx context.Context, userID, notificationType, content string)
}

// Enqueuer 消息队列生产者
type Enqueuer interface {
	SendMessage(topic string, key, value []byte) error
}

// Notifier 通知落库后再投递到消息队列，由外部服务负责送达
type Notifier struct {
	dao      dao.NotificationDAO
	producer Enqueuer
	topic    string
	logger   logger.Logger
}

// NewNotifier 创建通知器，producer 为 nil 时只落库
func NewNotifier(notificationDAO dao.NotificationDAO, producer Enqueuer, topic string, log logger.Logger) *Notifier {
	return &Notifier{
		dao:      notificationDAO,
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

// Notify 创建通知
func (n *Notifier) Notify(ctx context.Context, userID, notificationType, content string) {
	notification := &model.Notification{
		ID:        model.NewID(),
		UserID:    userID,
		Type:      notificationType,
		Content:   content,
		Read:      false,
		CreatedAt: time.Now(),
	}

	if err := n.dao.CreateNotification(ctx, notification); err != nil {
		n.logger.Error(ctx, "Failed to create notification",
			logger.F("userID", userID),
			logger.F("type", notificationType),
			logger.F("error", err.Error()))
		return
	}

	if n.producer == nil {
		return
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		n.logger.Error(ctx, "Failed to marshal notification", logger.F("error", err.Error()))
		return
	}
	if err := n.producer.SendMessage(n.topic, []byte(userID), payload); err != nil {
		n.logger.Error(ctx, "Failed to enqueue notification",
			logger.F("userID", userID),
			logger.F("topic", n.topic),
			logger.F("error", err.Error()))
	}
}
